// Package config loads the CLI surface spec.md §6 describes (flags,
// plus an optional YAML file layer) into an immutable
// relay.SessionConfig, the way die-net-conduit's proxy.Config and
// HakAl-langley's internal/config separate "parsed input" from "typed
// config" (SPEC_FULL.md §10.2).
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/diogin/tcprelay/internal/relay"
)

// CLI is the full parsed command line, including the fields the core
// relay engine doesn't need (listen address, thread count, log level,
// metrics address) alongside the relay.SessionConfig it builds.
type CLI struct {
	ListenAddr  string
	ListenPort  int
	Target      string
	Timeout     int
	Via         string
	HttpProxy   string
	LogLevel    string
	NumThreads  int
	MetricsAddr string
	ConfigFile  string

	Help    bool
	Version bool
}

// fileOverrides is the subset of CLI loadable from a YAML file, pre-
// populating defaults before flags are parsed so that flags always
// win (SPEC_FULL.md §10.2).
type fileOverrides struct {
	ListenAddr  string `yaml:"listen_addr"`
	ListenPort  int    `yaml:"port"`
	Target      string `yaml:"target"`
	Timeout     int    `yaml:"timeout"`
	Via         string `yaml:"via"`
	HttpProxy   string `yaml:"http_proxy"`
	LogLevel    string `yaml:"log_level"`
	NumThreads  int    `yaml:"threads"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Parse parses argv (excluding the program name) into a CLI, applying
// an optional --config YAML file's values as defaults first.
func Parse(argv []string) (*CLI, error) {
	cli := &CLI{
		ListenAddr: "0.0.0.0",
		ListenPort: 8886,
		Timeout:    240,
		Via:        "none",
		LogLevel:   "info",
		NumThreads: 4,
	}

	// A first pass just to find --config before the real flag set
	// parses everything else, so file values can seed defaults.
	preset := flag.NewFlagSet("tcprelay", flag.ContinueOnError)
	preset.SetOutput(io.Discard)
	preset.String("config", "", "")
	var configFile string
	presetArgs := append([]string{}, argv...)
	_ = preset.Parse(presetArgs)
	if f := preset.Lookup("config"); f != nil {
		configFile = f.Value.String()
	}

	if configFile != "" {
		if err := applyFileOverrides(cli, configFile); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("tcprelay", flag.ContinueOnError)
	fs.StringVar(&cli.ListenAddr, "listen_addr", cli.ListenAddr, "listen address")
	fs.StringVar(&cli.ListenAddr, "l", cli.ListenAddr, "listen address (shorthand)")
	fs.IntVar(&cli.ListenPort, "port", cli.ListenPort, "listen port")
	fs.IntVar(&cli.ListenPort, "p", cli.ListenPort, "listen port (shorthand)")
	fs.StringVar(&cli.Target, "target", cli.Target, "target host:port")
	fs.StringVar(&cli.Target, "t", cli.Target, "target host:port (shorthand)")
	fs.IntVar(&cli.Timeout, "timeout", cli.Timeout, "idle timeout seconds")
	fs.StringVar(&cli.Via, "via", cli.Via, "none|http_proxy")
	fs.StringVar(&cli.HttpProxy, "http_proxy", cli.HttpProxy, "proxy host:port, required iff via=http_proxy")
	fs.StringVar(&cli.LogLevel, "log_level", cli.LogLevel, "trace|debug|info|warn|error|disable")
	fs.IntVar(&cli.NumThreads, "threads", cli.NumThreads, "worker threads")
	fs.StringVar(&cli.MetricsAddr, "metrics_addr", cli.MetricsAddr, "optional host:port to serve /metrics on")
	fs.StringVar(&cli.ConfigFile, "config", configFile, "optional YAML config file")
	fs.BoolVar(&cli.Help, "h", false, "show help")
	fs.BoolVar(&cli.Help, "help", false, "show help")
	fs.BoolVar(&cli.Version, "v", false, "show version")
	fs.BoolVar(&cli.Version, "version", false, "show version")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	// The first pass stops at the first flag it does not define, so a
	// --config after another flag is only seen here: load the file now
	// and parse argv again so explicit flags still win over it.
	if configFile == "" && cli.ConfigFile != "" {
		if err := applyFileOverrides(cli, cli.ConfigFile); err != nil {
			return nil, err
		}
		if err := fs.Parse(argv); err != nil {
			return nil, err
		}
	}
	if cli.Help || cli.Version {
		return cli, nil
	}
	return cli, cli.Validate()
}

func applyFileOverrides(cli *CLI, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tcprelay: reading config file: %w", err)
	}
	var fo fileOverrides
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return fmt.Errorf("tcprelay: parsing config file: %w", err)
	}
	if fo.ListenAddr != "" {
		cli.ListenAddr = fo.ListenAddr
	}
	if fo.ListenPort != 0 {
		cli.ListenPort = fo.ListenPort
	}
	if fo.Target != "" {
		cli.Target = fo.Target
	}
	if fo.Timeout != 0 {
		cli.Timeout = fo.Timeout
	}
	if fo.Via != "" {
		cli.Via = fo.Via
	}
	if fo.HttpProxy != "" {
		cli.HttpProxy = fo.HttpProxy
	}
	if fo.LogLevel != "" {
		cli.LogLevel = fo.LogLevel
	}
	if fo.NumThreads != 0 {
		cli.NumThreads = fo.NumThreads
	}
	if fo.MetricsAddr != "" {
		cli.MetricsAddr = fo.MetricsAddr
	}
	return nil
}

// Validate enforces the CLI's own startup invariants (spec.md §6,
// SPEC_FULL.md §12): a required target, and via=http_proxy requiring
// --http_proxy (and vice versa) before the listener ever binds.
func (c *CLI) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("tcprelay: --target is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("tcprelay: --timeout must be positive")
	}
	if c.NumThreads <= 0 {
		return fmt.Errorf("tcprelay: --threads must be positive")
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("tcprelay: --port must be in 1..65535")
	}
	switch c.Via {
	case "none":
		if strings.TrimSpace(c.HttpProxy) != "" {
			return fmt.Errorf("tcprelay: --http_proxy requires --via http_proxy")
		}
	case "http_proxy":
		if strings.TrimSpace(c.HttpProxy) == "" {
			return fmt.Errorf("tcprelay: --via http_proxy requires --http_proxy")
		}
	default:
		return fmt.Errorf("tcprelay: --via must be none or http_proxy, got %q", c.Via)
	}
	return nil
}

// ListenAddress returns the dial-ready "host:port" the AcceptLoop binds.
func (c *CLI) ListenAddress() string {
	return relay.HostPort{Host: c.ListenAddr, Port: uint16(c.ListenPort)}.String()
}

// SessionConfig builds the immutable relay.SessionConfig shared across
// all sessions.
func (c *CLI) SessionConfig() (*relay.SessionConfig, error) {
	target, err := relay.ParseHostPort(c.Target)
	if err != nil {
		return nil, err
	}
	cfg := &relay.SessionConfig{
		Target:             target,
		IdleTimeoutSeconds: c.Timeout,
		Via:                relay.ViaDirect,
	}
	if c.Via == "http_proxy" {
		proxy, err := relay.ParseHostPort(c.HttpProxy)
		if err != nil {
			return nil, err
		}
		cfg.Via = relay.ViaHttpProxy
		cfg.Proxy = proxy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
