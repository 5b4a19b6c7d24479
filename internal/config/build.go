package config

import (
	"time"

	"github.com/sambacha/web3-proxy/internal/pool"
	"github.com/sambacha/web3-proxy/internal/router"
)

// PoolConfig translates the file's pool section into a pool.Config. Fields
// are copied as authored; zero values are left for pool.New's own defaults.
func (f *File) PoolConfig() pool.Config {
	return pool.Config{
		MinQuorumWeight:    f.Pool.MinQuorumWeight,
		MaxSyncLag:         f.Pool.MaxSyncLag,
		BlockIndexSize:     f.Pool.BlockIndexSize,
		SyncStatusInterval: time.Duration(f.Pool.SyncStatusInterval),
	}
}

// RouterConfig translates the file's router section into a router.Config.
func (f *File) RouterConfig() router.Config {
	return router.Config{
		UserAgent:             f.Router.UserAgent,
		MaxRetries:            f.Router.MaxRetries,
		RequestTimeout:        time.Duration(f.Router.RequestTimeout),
		RaceFanoutUsesPrivate: f.Router.RaceFanoutUsesPrivate,
	}
}

// CacheSize returns the configured (maxEntries, maxBytes) pair, substituting
// 10,000 entries and 256 MiB for a zero value.
func (f *File) CacheSize() (maxEntries, maxBytes int) {
	maxEntries, maxBytes = f.Cache.MaxEntries, f.Cache.MaxBytes
	if maxEntries == 0 {
		maxEntries = 10_000
	}
	if maxBytes == 0 {
		maxBytes = 256 << 20
	}
	return maxEntries, maxBytes
}
