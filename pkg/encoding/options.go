package encoding

// Options are the server wide encoding settings.
type Options struct {
	EncodingThreadCount  int
	Preset               string
	H264CRF              int
	H265CRF              int
	H264Encoder          string
	HevcEncoder          string
	HardwareAcceleration string // e.g. vaapi, qsv, cuda
	DownMixAudioBoost    float64
	AnalyzeDurationMs    int
}

func (o Options) withDefaultValues() Options {
	if o.Preset == "" {
		o.Preset = "superfast"
	}
	if o.H264CRF == 0 {
		o.H264CRF = 23
	}
	if o.H265CRF == 0 {
		o.H265CRF = 28
	}
	if o.H264Encoder == "" {
		o.H264Encoder = "libx264"
	}
	if o.HevcEncoder == "" {
		o.HevcEncoder = "libx265"
	}
	if o.DownMixAudioBoost == 0 {
		o.DownMixAudioBoost = 2
	}
	return o
}
