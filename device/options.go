package device

import (
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultPollInterval = 5 * time.Millisecond
	defaultJoinTimeout  = 5 * time.Second
)

type Options struct {
	Name string `toml:"name"`
	// PollInterval bounds each wait so queued messages are retried even
	// when nothing becomes readable.
	PollInterval time.Duration `toml:"poll_interval"`
	// JoinTimeout bounds how long the Harness waits for the device and
	// its peers to finish once asked to.
	JoinTimeout time.Duration `toml:"join_timeout"`
	LogLevel    string        `toml:"log_level"`
}

func NewOptions() *Options {
	return &Options{}
}

// LoadOptions reads a TOML file. Durations are strings such as "10ms".
func LoadOptions(path string) (*Options, error) {
	opts := NewOptions()
	if _, err := toml.DecodeFile(path, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (opts *Options) SetName(name string) *Options {
	opts.Name = name
	return opts
}

func (opts *Options) SetPollInterval(d time.Duration) *Options {
	opts.PollInterval = d
	return opts
}

func (opts *Options) SetJoinTimeout(d time.Duration) *Options {
	opts.JoinTimeout = d
	return opts
}

func (opts *Options) SetLogLevel(level string) *Options {
	opts.LogLevel = level
	return opts
}

func (opts *Options) withDefaults() *Options {
	o := *opts
	if o.Name == "" {
		o.Name = "device"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = defaultJoinTimeout
	}
	return &o
}
