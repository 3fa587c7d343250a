package config

import (
	"net/netip"

	"github.com/daniellavrushin/httpcopy/log"
)

type Config struct {
	ConfigPath string `json:"-"`
	Version    int    `json:"version"`

	// Listen is the production server (host[:port]) whose traffic tcpflow records.
	Listen string `json:"listen"`
	// Forward is the test server (host[:port]) captured requests are replayed to.
	Forward string `json:"forward"`

	Capture   CaptureConfig   `json:"capture"`
	Output    OutputConfig    `json:"output"`
	Filter    FilterConfig    `json:"filter"`
	Workers   WorkersConfig   `json:"workers"`
	Forwarder ForwarderConfig `json:"forwarder"`
	Record    RecordConfig    `json:"record"`
	System    SystemConfig    `json:"system"`

	// Pre-v1 single prefix, moved into Filter.URLPrefixes by migrateV0to1.
	LegacyURLPrefix string `json:"url_prefix,omitempty"`

	// Resolved by Validate.
	ListenAddr  netip.AddrPort `json:"-"`
	ForwardAddr string         `json:"-"`
}

type CaptureConfig struct {
	Dir                  string `json:"dir"`
	PollIntervalMs       int    `json:"poll_interval_ms"` // 0 = scan once and exit
	InactivityTimeoutSec int    `json:"inactivity_timeout_sec"`
	Inotify              bool   `json:"inotify"`
}

type OutputConfig struct {
	Dir string `json:"dir"` // defaults to Capture.Dir
}

type FilterConfig struct {
	URLPrefixes []string `json:"url_prefixes"` // plain prefixes or "regexp:<pattern>"
	URLDeny     []string `json:"url_deny"`
	Clients     []string `json:"clients"` // client IPs/CIDRs allowed, empty = any
}

type WorkersConfig struct {
	Count     int `json:"count"`
	QueueSize int `json:"queue_size"`
}

type ForwarderConfig struct {
	ConnectTimeoutMs int `json:"connect_timeout_ms"`
	ReadTimeoutMs    int `json:"read_timeout_ms"`
	ShutdownGraceSec int `json:"shutdown_grace_sec"`
	ProbeIntervalSec int `json:"probe_interval_sec"` // 0 disables the reachability monitor
}

type RecordConfig struct {
	Disabled bool   `json:"disabled"`
	DB       string `json:"db"` // SQLite index path, empty disables
}

type SystemConfig struct {
	Logging   Logging         `json:"logging"`
	WebServer WebServerConfig `json:"web_server"`
}

type WebServerConfig struct {
	Port        int    `json:"port"`
	BindAddress string `json:"bind_address"`
	IsEnabled   bool   `json:"-"`
}

type Logging struct {
	Level      log.Level `json:"level"`
	Instaflush bool      `json:"instaflush"`
	Syslog     bool      `json:"syslog"`
	ErrorFile  string    `json:"error_file"`
}
