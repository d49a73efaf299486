package player

type Config struct {
	// playlist relative to the player page
	Source string
}

func (c Config) withDefaultValues() Config {
	if c.Source == "" {
		c.Source = "live.m3u8"
	}
	return c
}
