// Copyright 2025 MCP Gateway Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the gateway's JSON configuration file
// (spec §6): transport mode, bind address, and the map of upstream peers.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/nexigate/mcp-gateway/internal/names"
)

// Transport selects how the gateway is reachable by its downstream consumer.
type Transport string

const (
	// TransportStream is the duplex single-session mode: one persistent
	// bidirectional byte stream, session ID is always "default".
	TransportStream Transport = "stream"
	// TransportFramed is the multiplexed framed mode: many concurrent
	// downstream sessions over a framed transport, bound to host:port.
	TransportFramed Transport = "framed"
)

// DefaultTransport matches spec §6: "default 'framed'".
const DefaultTransport = TransportFramed

// PeerType discriminates the two UpstreamPeerConfig variants from spec §3.
type PeerType string

const (
	PeerStreamed PeerType = "streamed"
	PeerChild    PeerType = "child"
)

// Config is the root configuration object (spec §6).
type Config struct {
	Transport Transport             `json:"transport"`
	Port      int                   `json:"port,omitempty"`
	Host      string                `json:"host,omitempty"`
	MCPClients map[string]*PeerConfig `json:"mcpClients,omitempty"`
}

// PeerConfig is the tagged union UpstreamPeerConfig = {Streamed, ChildProcess}.
// Type is resolved from the "type" field during unmarshalling.
type PeerConfig struct {
	Type PeerType

	// Streamed fields.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// ChildProcess fields.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Shared: absent = all tools allowed; [] = all tools blocked (spec §4.1).
	AllowedTools *[]string `json:"allowedTools,omitempty"`
}

// IsStreamed reports whether this peer is reached over the streamed (HTTP/SSE)
// transport.
func (p *PeerConfig) IsStreamed() bool { return p.Type == PeerStreamed }

// IsChild reports whether this peer is a spawned child process (stdio transport).
func (p *PeerConfig) IsChild() bool { return p.Type == PeerChild }

// Allowlist returns (tools, true) if an allowlist was configured (possibly
// empty, meaning "block everything"), or (nil, false) if allowedTools was
// absent ("pass everything through").
func (p *PeerConfig) Allowlist() ([]string, bool) {
	if p.AllowedTools == nil {
		return nil, false
	}
	return *p.AllowedTools, true
}

type rawPeerConfig struct {
	Type         string            `json:"type"`
	URL          string            `json:"url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	AllowedTools *[]string         `json:"allowedTools,omitempty"`
}

// UnmarshalJSON resolves the tagged union by its "type" field.
func (p *PeerConfig) UnmarshalJSON(data []byte) error {
	var raw rawPeerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch PeerType(raw.Type) {
	case PeerStreamed:
		if raw.URL == "" {
			return fmt.Errorf(`mcpClients entry of type "streamed" requires "url"`)
		}
	case PeerChild:
		if raw.Command == "" {
			return fmt.Errorf(`mcpClients entry of type "child" requires "command"`)
		}
	default:
		return fmt.Errorf(`mcpClients entry has invalid "type" %q, want "streamed" or "child"`, raw.Type)
	}
	*p = PeerConfig{
		Type:         PeerType(raw.Type),
		URL:          raw.URL,
		Headers:      raw.Headers,
		Command:      raw.Command,
		Args:         raw.Args,
		Env:          raw.Env,
		AllowedTools: raw.AllowedTools,
	}
	return nil
}

// MarshalJSON re-flattens the tagged union back into the wire shape.
func (p *PeerConfig) MarshalJSON() ([]byte, error) {
	raw := rawPeerConfig{
		Type:         string(p.Type),
		URL:          p.URL,
		Headers:      p.Headers,
		Command:      p.Command,
		Args:         p.Args,
		Env:          p.Env,
		AllowedTools: p.AllowedTools,
	}
	return json.Marshal(raw)
}

// Load reads and validates a configuration file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultConfigPath returns ~/.mcp-gateway/config.json, the fallback path
// used when the CLI's --config-path flag is omitted (grounded on the
// teacher's GetConfigPath resolving ~/.centian/config.json).
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mcp-gateway", "config.json"), nil
}

// applyEnvOverrides implements spec §6's "Env override: PORT, HOST win over
// file."
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Port = port
		}
	}
}

// Validate checks the structural rules from spec §6.
func Validate(cfg *Config) error {
	if cfg.Transport == "" {
		cfg.Transport = DefaultTransport
	}
	if cfg.Transport != TransportStream && cfg.Transport != TransportFramed {
		return fmt.Errorf(`transport must be "stream" or "framed", got %q`, cfg.Transport)
	}
	if cfg.Transport == TransportFramed {
		if cfg.Port == 0 {
			return fmt.Errorf(`"port" is required when transport is "framed"`)
		}
		if cfg.Host == "" {
			return fmt.Errorf(`"host" is required when transport is "framed"`)
		}
	}
	for peerName, peer := range cfg.MCPClients {
		if !names.IsValidPeerName(peerName) {
			return fmt.Errorf("mcpClients[%q]: peer name must be URL-safe (alphanumeric, dash, underscore)", peerName)
		}
		if peer.IsStreamed() {
			if _, err := url.ParseRequestURI(peer.URL); err != nil {
				return fmt.Errorf("mcpClients[%q]: invalid url %q: %w", peerName, peer.URL, err)
			}
		}
	}
	return nil
}
