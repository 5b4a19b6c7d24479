// Command web3-proxy is SPEC_FULL.md's wiring entrypoint: load
// configuration, build the backend pool(s), cache, single-flight
// registry, router, and subscription engine, and serve them over
// HTTP/WS exactly as the ambient stack section describes.
//
// Grounded on libevm/rpcroute's own NewServer/Close lifecycle, expanded
// here into a full process entrypoint with flag parsing, signal-driven
// shutdown, and go-ethereum's slog-backed logging, the way geth's own
// cmd/geth wires up its node.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/sambacha/web3-proxy/internal/backend"
	"github.com/sambacha/web3-proxy/internal/cache"
	"github.com/sambacha/web3-proxy/internal/config"
	"github.com/sambacha/web3-proxy/internal/inflight"
	"github.com/sambacha/web3-proxy/internal/lifecycle"
	"github.com/sambacha/web3-proxy/internal/pendingtx"
	"github.com/sambacha/web3-proxy/internal/pool"
	"github.com/sambacha/web3-proxy/internal/proxymetrics"
	"github.com/sambacha/web3-proxy/internal/quota"
	"github.com/sambacha/web3-proxy/internal/recordsink"
	"github.com/sambacha/web3-proxy/internal/router"
	"github.com/sambacha/web3-proxy/internal/subscription"
)

func main() {
	configPath := flag.String("config", "web3-proxy.toml", "path to the TOML configuration file")
	verbosity := flag.Int("verbosity", 3, "log verbosity (0=crit .. 5=trace)")
	flag.Parse()

	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.FromLegacyLevel(*verbosity))
	log.SetDefault(log.NewLogger(glogger))

	if err := run(*configPath); err != nil {
		log.Crit("web3-proxy exited with error", "err", err)
	}
}

func run(configPath string) error {
	file, err := config.LoadTOML(configPath)
	if err != nil {
		return err
	}

	oracle, err := buildQuotaOracle(file.Quota)
	if err != nil {
		return err
	}

	sink, closeSink, err := buildRecordSink(file.RecordSink)
	if err != nil {
		return err
	}
	if closeSink != nil {
		defer closeSink()
	}

	balanced := pool.New(file.PoolConfig())
	if err := addBackends(balanced, file.Backends, oracle); err != nil {
		return err
	}

	var private *pool.Pool
	if len(file.Private) > 0 {
		private = pool.New(file.PoolConfig())
		if err := addBackends(private, file.Private, oracle); err != nil {
			return err
		}
	}

	maxEntries, maxBytes := file.CacheSize()
	c := cache.New(maxEntries, maxBytes)
	ifr := inflight.New()
	r := router.New(file.RouterConfig(), balanced, private, c, ifr, sink)

	txBus := pendingtx.NewBus(256)
	reorgs := pendingtx.NewReorgTracker(txBus)
	wirePendingTxProducers(balanced, reorgs)
	wirePendingTxProducers(private, reorgs)

	registry := pendingtx.NewRegistry(4096)
	registrySub := txBus.Subscribe()

	engine := subscription.New(balanced, txBus)
	metrics := proxymetrics.New()

	group := lifecycle.New(context.Background())
	group.Go(func() { registry.Consume(registrySub, group.Context().Done()) })

	if err := balanced.Start(group.Context()); err != nil {
		return err
	}
	if private != nil {
		if err := private.Start(group.Context()); err != nil {
			return err
		}
	}

	srv, err := newServer(file.Server, r, engine, metrics)
	if err != nil {
		return err
	}
	group.Go(func() { srv.Serve(group.Context()) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	srv.Shutdown(context.Background())
	group.Close()
	balanced.Close()
	if private != nil {
		private.Close()
	}
	return nil
}

func addBackends(p *pool.Pool, specs []config.BackendSpec, oracle quota.Oracle) error {
	for _, spec := range specs {
		cfg, err := spec.BackendConfig()
		if err != nil {
			return err
		}
		p.AddBackend(cfg, oracle)
	}
	return nil
}

// wirePendingTxProducers points every backend in p at reorgs as both its
// ReorgNotifier (so head-observed reorgs emit Orphaned) and its
// PendingTxSink (so its own mempool listener emits Pending and its head
// tracker emits Confirmed), closing spec §4.5's producer side. p may be nil
// (no private pool configured).
func wirePendingTxProducers(p *pool.Pool, reorgs *pendingtx.ReorgTracker) {
	if p == nil {
		return
	}
	for _, b := range p.Backends() {
		b.SetReorgNotifier(reorgs)
		b.SetPendingTxSink(reorgs)
	}
}

func buildQuotaOracle(spec config.QuotaSpec) (quota.Oracle, error) {
	switch spec.Backend {
	case "", "memory":
		return quota.NewInMemory(), nil
	case "redis":
		client := goredislib.NewClient(&goredislib.Options{Addr: spec.RedisURL})
		return quota.NewRedis(client), nil
	default:
		return nil, errUnknownQuotaBackend(spec.Backend)
	}
}

func buildRecordSink(spec config.RecordSinkSpec) (backend.RevertSink, func(), error) {
	switch spec.Backend {
	case "", "none":
		return nil, nil, nil
	case "leveldb":
		s, err := recordsink.OpenLevelDB(spec.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, errUnknownRecordSinkBackend(spec.Backend)
	}
}

type errUnknownQuotaBackend string

func (e errUnknownQuotaBackend) Error() string { return "unknown quota backend: " + string(e) }

type errUnknownRecordSinkBackend string

func (e errUnknownRecordSinkBackend) Error() string {
	return "unknown record sink backend: " + string(e)
}
