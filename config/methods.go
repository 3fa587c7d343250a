package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/daniellavrushin/httpcopy/log"
	"github.com/spf13/cobra"
)

func (c *Config) SaveToFile(path string) error {
	if path == "" {
		log.Tracef("config path is not defined")
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return log.Errorf("failed to marshal config: %v", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return log.Errorf("failed to create config file: %v", err)
	}
	defer file.Close()

	if _, err = file.Write(data); err != nil {
		return log.Errorf("failed to write config file: %v", err)
	}
	return nil
}

func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		log.Tracef("config path is not defined")
		return nil
	}

	data, err := readConfigFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return log.Errorf("failed to parse config file: %v", err)
	}
	return nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, log.Errorf("failed to stat config file: %v", err)
	}
	if info.IsDir() {
		return nil, log.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, log.Errorf("failed to read config file: %v", err)
	}
	return data, nil
}

func (c *Config) BindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.ConfigPath, "config", c.ConfigPath, "Path to config file")

	// Servers
	cmd.Flags().StringVarP(&c.Listen, "listen", "l", c.Listen, "Production server tcpflow listens to (host[:port])")
	cmd.Flags().StringVarP(&c.Forward, "forward", "f", c.Forward, "Test server to forward requests to (host[:port])")

	// Capture directory
	cmd.Flags().StringVarP(&c.Capture.Dir, "data-dir", "d", c.Capture.Dir, "Directory tcpflow writes capture files into")
	cmd.Flags().IntVarP(&c.Capture.InactivityTimeoutSec, "timeout", "t", c.Capture.InactivityTimeoutSec, "Seconds without file changes before a capture is considered complete")
	cmd.Flags().IntVarP(&c.Capture.PollIntervalMs, "interval-ms", "i", c.Capture.PollIntervalMs, "Capture directory scan interval in ms (0 scans once and exits)")
	cmd.Flags().BoolVar(&c.Capture.Inotify, "inotify", c.Capture.Inotify, "Use inotify to wake the scanner early (Linux only)")
	cmd.Flags().StringVarP(&c.Output.Dir, "output-dir", "o", c.Output.Dir, "Base directory for forward/ and invalid*/ (default: data dir)")

	// Filters
	cmd.Flags().StringSliceVarP(&c.Filter.URLPrefixes, "url-prefix", "u", c.Filter.URLPrefixes, "URL prefixes to forward (\"regexp:<re>\" for patterns)")
	cmd.Flags().StringSliceVar(&c.Filter.URLDeny, "url-deny", c.Filter.URLDeny, "URL prefixes never forwarded (\"regexp:<re>\" for patterns)")
	cmd.Flags().StringSliceVar(&c.Filter.Clients, "client", c.Filter.Clients, "Client IPs/CIDRs to accept (default any)")

	// Workers and forwarding
	cmd.Flags().IntVar(&c.Workers.Count, "workers", c.Workers.Count, "Number of concurrent classify/forward workers")
	cmd.Flags().IntVar(&c.Forwarder.ConnectTimeoutMs, "connect-timeout-ms", c.Forwarder.ConnectTimeoutMs, "Test server connect timeout in ms")
	cmd.Flags().IntVar(&c.Forwarder.ReadTimeoutMs, "read-timeout-ms", c.Forwarder.ReadTimeoutMs, "Test server idle read timeout per request in ms")
	cmd.Flags().IntVar(&c.Forwarder.ShutdownGraceSec, "shutdown-grace", c.Forwarder.ShutdownGraceSec, "Seconds in-flight forwards may run after a shutdown signal")
	cmd.Flags().IntVar(&c.Forwarder.ProbeIntervalSec, "probe-interval", c.Forwarder.ProbeIntervalSec, "Seconds between test server reachability checks (0 disables)")

	// Recording
	cmd.Flags().BoolVar(&c.Record.Disabled, "no-record", c.Record.Disabled, "Do not write exchange records")
	cmd.Flags().StringVar(&c.Record.DB, "record-db", c.Record.DB, "SQLite file to index forwarded exchanges in (empty disables)")

	// System
	cmd.Flags().BoolVar(&c.System.Logging.Instaflush, "instaflush", c.System.Logging.Instaflush, "Flush logs immediately")
	cmd.Flags().BoolVar(&c.System.Logging.Syslog, "syslog", c.System.Logging.Syslog, "Enable syslog output")
	cmd.Flags().StringVar(&c.System.Logging.ErrorFile, "error-file", c.System.Logging.ErrorFile, "Also append errors to this file")
	cmd.Flags().IntVar(&c.System.WebServer.Port, "web-port", c.System.WebServer.Port, "Port for the status server (0 disables)")
	cmd.Flags().StringVar(&c.System.WebServer.BindAddress, "web-bind", c.System.WebServer.BindAddress, "Bind address for the status server")
}

func (c *Config) ApplyLogLevel(level string) {
	c.System.Logging.Level = log.ParseLevel(level)
}

func (c *Config) Validate() error {
	c.System.WebServer.IsEnabled = c.System.WebServer.Port > 0 && c.System.WebServer.Port <= 65535

	if c.Listen == "" {
		return fmt.Errorf("--listen must be specified")
	}
	listen, err := ResolveAddrPort(c.Listen, DefaultHTTPPort)
	if err != nil {
		return fmt.Errorf("invalid --listen %q: %w", c.Listen, err)
	}
	c.ListenAddr = listen

	if c.Forward == "" {
		return fmt.Errorf("--forward must be specified")
	}
	host, port, err := ParseHostPort(c.Forward, DefaultHTTPPort)
	if err != nil {
		return fmt.Errorf("invalid --forward %q: %w", c.Forward, err)
	}
	c.ForwardAddr = net.JoinHostPort(host, strconv.Itoa(int(port)))

	if c.Capture.Dir == "" {
		return fmt.Errorf("--data-dir must not be empty")
	}
	if info, err := os.Stat(c.Capture.Dir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", c.Capture.Dir)
	}

	if c.Capture.InactivityTimeoutSec < 1 {
		return fmt.Errorf("timeout must be at least 1 second")
	}
	if c.Capture.PollIntervalMs < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		c.Workers.QueueSize = DefaultConfig.Workers.QueueSize
	}
	if c.Forwarder.ConnectTimeoutMs < 1 || c.Forwarder.ReadTimeoutMs < 1 {
		return fmt.Errorf("forwarder timeouts must be positive")
	}
	if c.Forwarder.ShutdownGraceSec < 0 {
		return fmt.Errorf("shutdown grace must not be negative")
	}
	if c.Forwarder.ProbeIntervalSec < 0 {
		return fmt.Errorf("probe interval must not be negative")
	}
	if c.System.WebServer.Port < 0 || c.System.WebServer.Port > 65535 {
		return fmt.Errorf("web-port must be between 0 and 65535")
	}

	for _, rule := range append(append([]string{}, c.Filter.URLPrefixes...), c.Filter.URLDeny...) {
		if pattern, ok := strings.CutPrefix(rule, "regexp:"); ok {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("bad url rule %q: %w", rule, err)
			}
		}
	}
	for _, cidr := range c.Filter.Clients {
		if _, err := ParsePrefix(cidr); err != nil {
			return fmt.Errorf("bad client filter %q: %w", cidr, err)
		}
	}

	return nil
}

// ParseHostPort splits "host[:port]", applying defaultPort when the port is
// omitted. Bracketed IPv6 literals are accepted.
func ParseHostPort(hostport string, defaultPort uint16) (string, uint16, error) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", 0, fmt.Errorf("empty address")
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port present: bare host, bare IPv4, bare or bracketed IPv6.
		host = strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
		if host == "" {
			return "", 0, fmt.Errorf("missing host")
		}
		return host, defaultPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, uint16(port), nil
}

// ResolveAddrPort turns "host[:port]" into an IP endpoint, resolving names.
func ResolveAddrPort(hostport string, defaultPort uint16) (netip.AddrPort, error) {
	host, port, err := ParseHostPort(hostport, defaultPort)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), port), nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("cannot resolve %s: %v", host, err)
	}
	ip, _ := netip.AddrFromSlice(ips[0])
	return netip.AddrPortFrom(ip.Unmap(), port), nil
}

// ParsePrefix accepts a CIDR or a bare IP (treated as a host route).
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}
