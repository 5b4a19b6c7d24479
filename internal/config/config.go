// Package config implements SPEC_FULL.md's ambient configuration layer:
// a TOML file (the primary format, matching proxyd's go.mod choice of
// github.com/BurntSushi/toml) describing the backend pool, router
// tunables, quota oracle, record sink, and listen addresses, translated
// into the concrete internal/{backend,pool,router,quota} config types.
//
// A secondary YAML loader (gopkg.in/yaml.v3) is kept for backend lists
// only, since original_source's own configuration was YAML-like
// key/value rather than TOML.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sambacha/web3-proxy/internal/backend"
)

// BackendSpec is one backend's TOML/YAML-authored description.
type BackendSpec struct {
	ID           string   `toml:"id" yaml:"id"`
	URL          string   `toml:"url" yaml:"url"`
	Kind         string   `toml:"kind" yaml:"kind"` // "http" or "ws"
	SoftLimit    int      `toml:"soft_limit" yaml:"soft_limit"`
	HardLimit    int      `toml:"hard_limit" yaml:"hard_limit"`
	Weight       float64  `toml:"weight" yaml:"weight"`
	Capabilities []string `toml:"capabilities" yaml:"capabilities"` // "archive", "trace", "debug"
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	StallTimeout Duration `toml:"stall_timeout" yaml:"stall_timeout"`
	MaxFailures  int      `toml:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	Private      bool     `toml:"private" yaml:"private"` // decoded but not read; the private pool is built from private_backends
}

// Duration wraps time.Duration so it can be authored as "30s" in TOML/YAML
// while still decoding via encoding.TextUnmarshaler.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", string(text))
	}
	*d = Duration(parsed)
	return nil
}

// PoolSpec maps to pool.Config.
type PoolSpec struct {
	MinQuorumWeight    float64  `toml:"min_quorum_weight" yaml:"min_quorum_weight"`
	MaxSyncLag         uint64   `toml:"max_sync_lag" yaml:"max_sync_lag"`
	BlockIndexSize     int      `toml:"block_index_size" yaml:"block_index_size"`
	SyncStatusInterval Duration `toml:"sync_status_interval" yaml:"sync_status_interval"`
}

// RouterSpec maps to router.Config.
type RouterSpec struct {
	UserAgent             string   `toml:"user_agent" yaml:"user_agent"`
	MaxRetries            int      `toml:"max_retries" yaml:"max_retries"`
	RequestTimeout        Duration `toml:"request_timeout" yaml:"request_timeout"`
	RaceFanoutUsesPrivate bool     `toml:"race_fanout_uses_private" yaml:"race_fanout_uses_private"`
}

// CacheSpec maps to cache.New's arguments.
type CacheSpec struct {
	MaxEntries int `toml:"max_entries" yaml:"max_entries"`
	MaxBytes   int `toml:"max_bytes" yaml:"max_bytes"`
}

// QuotaSpec selects and configures the quota.Oracle adapter.
type QuotaSpec struct {
	// Backend is "memory" (default) or "redis".
	Backend  string `toml:"backend" yaml:"backend"`
	RedisURL string `toml:"redis_url" yaml:"redis_url"`
}

// RecordSinkSpec selects and configures the recordsink.Sink adapter.
type RecordSinkSpec struct {
	// Backend is "none" (default) or "leveldb".
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
}

// ServerSpec describes the listen addresses for the HTTP/WS front door and
// the metrics endpoint.
type ServerSpec struct {
	ListenAddr        string   `toml:"listen_addr" yaml:"listen_addr"`
	MetricsListenAddr string   `toml:"metrics_listen_addr" yaml:"metrics_listen_addr"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// File is the top-level shape of the proxy's configuration file.
type File struct {
	Server      ServerSpec      `toml:"server" yaml:"server"`
	Pool        PoolSpec        `toml:"pool" yaml:"pool"`
	Router      RouterSpec      `toml:"router" yaml:"router"`
	Cache       CacheSpec       `toml:"cache" yaml:"cache"`
	Quota       QuotaSpec       `toml:"quota" yaml:"quota"`
	RecordSink  RecordSinkSpec  `toml:"record_sink" yaml:"record_sink"`
	Backends    []BackendSpec   `toml:"backends" yaml:"backends"`
	Private     []BackendSpec   `toml:"private_backends" yaml:"private_backends"`
}

// LoadTOML parses a TOML-authored configuration file. This is the primary
// loader, matching proxyd's go.mod choice of github.com/BurntSushi/toml.
func LoadTOML(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.Wrapf(err, "decoding toml config %q", path)
	}
	return &f, nil
}

// LoadYAML parses a YAML-authored configuration file. Kept as a secondary
// loader for operators who prefer to author backend lists the way
// original_source's own config did (YAML-like key/value).
func LoadYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decoding yaml config")
	}
	return &f, nil
}

// BackendConfig translates one BackendSpec into a backend.Config, per
// spec §3's "Backend" type.
func (s BackendSpec) BackendConfig() (backend.Config, error) {
	kind := backend.KindHTTP
	switch s.Kind {
	case "", "http":
		kind = backend.KindHTTP
	case "ws":
		kind = backend.KindWS
	default:
		return backend.Config{}, errors.Errorf("backend %q: unknown kind %q", s.ID, s.Kind)
	}

	var caps backend.Capabilities
	for _, c := range s.Capabilities {
		switch c {
		case "archive":
			caps |= backend.CapArchive
		case "trace":
			caps |= backend.CapTrace
		case "debug":
			caps |= backend.CapDebug
		default:
			return backend.Config{}, errors.Errorf("backend %q: unknown capability %q", s.ID, c)
		}
	}

	weight := s.Weight
	if weight == 0 {
		weight = 1
	}

	return backend.Config{
		ID: s.ID,
		Transport: backend.Transport{
			Kind:         kind,
			URL:          s.URL,
			PollInterval: time.Duration(s.PollInterval),
		},
		SoftLimit:              s.SoftLimit,
		HardLimit:              s.HardLimit,
		Weight:                 weight,
		Capabilities:           caps,
		StallTimeout:           time.Duration(s.StallTimeout),
		MaxConsecutiveFailures: s.MaxFailures,
	}, nil
}
