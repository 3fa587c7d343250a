package config

import (
	"time"

	"github.com/daniellavrushin/httpcopy/log"
)

const DefaultHTTPPort = 80

// DefaultConfig carries no Version: the migrations read it, so it cannot
// depend on the migration registry. NewConfig stamps the version.
var DefaultConfig = Config{
	Capture: CaptureConfig{
		Dir:                  ".",
		PollIntervalMs:       1000,
		InactivityTimeoutSec: 10,
		Inotify:              true,
	},

	Filter: FilterConfig{
		URLPrefixes: []string{},
		URLDeny:     []string{},
		Clients:     []string{},
	},

	Workers: WorkersConfig{
		Count:     4,
		QueueSize: 256,
	},

	Forwarder: ForwarderConfig{
		ConnectTimeoutMs: 2000,
		ReadTimeoutMs:    5000,
		ShutdownGraceSec: 10,
		ProbeIntervalSec: 30,
	},

	System: SystemConfig{
		WebServer: WebServerConfig{
			Port:        0,
			BindAddress: "127.0.0.1",
		},
		Logging: Logging{
			Level:      log.LevelInfo,
			Instaflush: true,
		},
	},
}

// NewConfig returns a copy of DefaultConfig that shares no slices with it.
func NewConfig() Config {
	c := DefaultConfig
	c.Version = CurrentConfigVersion
	c.Filter.URLPrefixes = append([]string{}, DefaultConfig.Filter.URLPrefixes...)
	c.Filter.URLDeny = append([]string{}, DefaultConfig.Filter.URLDeny...)
	c.Filter.Clients = append([]string{}, DefaultConfig.Filter.Clients...)
	return c
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Capture.PollIntervalMs) * time.Millisecond
}

func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Capture.InactivityTimeoutSec) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Forwarder.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Forwarder.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Forwarder.ShutdownGraceSec) * time.Second
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Forwarder.ProbeIntervalSec) * time.Second
}

func (c *Config) OutputDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return c.Capture.Dir
}
