package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	csx "github.com/ehrlich-b/go-csx"
)

type relayConfig struct {
	ListenPort int
	Node       string
	Service    string
	Once       bool
}

type config struct {
	Device           string
	LogLevel         string
	LogFormat        string
	MetricsAddr      string
	UserSpaceCompute bool
	Relay            relayConfig
}

func defaultConfig() config {
	return config{
		Device:    "/dev/nvme0",
		LogLevel:  "info",
		LogFormat: "text",
		Relay: relayConfig{
			ListenPort: csx.DefaultListenPort,
			Node:       csx.DefaultRelayNode,
			Service:    csx.DefaultRelayService,
			Once:       true,
		},
	}
}

type fileRelayConfig struct {
	ListenPort int    `toml:"listen_port"`
	Node       string `toml:"node"`
	Service    string `toml:"service"`
	Once       bool   `toml:"once"`
}

type fileConfig struct {
	Device           string          `toml:"device"`
	LogLevel         string          `toml:"log_level"`
	LogFormat        string          `toml:"log_format"`
	MetricsAddr      string          `toml:"metrics_addr"`
	UserSpaceCompute bool            `toml:"user_space_compute"`
	Relay            fileRelayConfig `toml:"relay"`
}

// loadConfig overlays the keys set in the TOML file at path onto cfg
func loadConfig(path string, cfg config) (config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load csx config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load csx config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("device") {
		if d := strings.TrimSpace(raw.Device); d != "" {
			cfg.Device = d
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		f := strings.ToLower(strings.TrimSpace(raw.LogFormat))
		if f != "json" && f != "text" {
			return config{}, fmt.Errorf("parse log_format: %q is neither json nor text", raw.LogFormat)
		}
		cfg.LogFormat = f
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("user_space_compute") {
		cfg.UserSpaceCompute = raw.UserSpaceCompute
	}

	if meta.IsDefined("relay", "listen_port") {
		if raw.Relay.ListenPort <= 0 || raw.Relay.ListenPort > 65535 {
			return config{}, fmt.Errorf("parse relay.listen_port: %d out of range", raw.Relay.ListenPort)
		}
		cfg.Relay.ListenPort = raw.Relay.ListenPort
	}
	if meta.IsDefined("relay", "node") {
		cfg.Relay.Node = strings.TrimSpace(raw.Relay.Node)
	}
	if meta.IsDefined("relay", "service") {
		cfg.Relay.Service = strings.TrimSpace(raw.Relay.Service)
	}
	if meta.IsDefined("relay", "once") {
		cfg.Relay.Once = raw.Relay.Once
	}

	return cfg, nil
}
