package server

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Bind    string
	Static  string
	SSLCert string
	SSLKey  string
	Proxy   bool
	PProf   bool
	Metrics bool

	// zero disables rate limiting
	RateLimitRPS   float64
	RateLimitBurst int
}

func (Config) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve http")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("static", "", "path to client files to serve")
	if err := viper.BindPFlag("static", cmd.PersistentFlags().Lookup("static")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("metrics", true, "enable prometheus endpoint available at /metrics")
	if err := viper.BindPFlag("metrics", cmd.PersistentFlags().Lookup("metrics")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("rate-limit.rps", 0, "allowed requests per second, 0 disables limiting")
	if err := viper.BindPFlag("rate-limit.rps", cmd.PersistentFlags().Lookup("rate-limit.rps")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("rate-limit.burst", 100, "maximum burst of requests")
	if err := viper.BindPFlag("rate-limit.burst", cmd.PersistentFlags().Lookup("rate-limit.burst")); err != nil {
		return err
	}

	return nil
}

func (c *Config) Set() {
	c.Bind = viper.GetString("bind")
	c.Static = viper.GetString("static")
	c.SSLCert = viper.GetString("cert")
	c.SSLKey = viper.GetString("key")
	c.Proxy = viper.GetBool("proxy")
	c.PProf = viper.GetBool("pprof")
	c.Metrics = viper.GetBool("metrics")

	c.RateLimitRPS = viper.GetFloat64("rate-limit.rps")
	c.RateLimitBurst = viper.GetInt("rate-limit.burst")
}
