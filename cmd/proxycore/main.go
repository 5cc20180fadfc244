// Command proxycore runs the caching-proxy core: it accepts client
// connections, parses HTTP/1 requests, and drives them through the ACL/
// auth/deny_info callout sequence of spec.md §4.7. It does not itself
// fetch from upstream or serve from cache — those are the external
// fetcher collaborator spec.md §1 describes, wired in here only as
// coordinator.Hooks.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/squidgo/proxycore/internal/accesslog"
	"github.com/squidgo/proxycore/internal/auth"
	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/connio"
	"github.com/squidgo/proxycore/internal/coordinator"
	"github.com/squidgo/proxycore/internal/httpmsg"
	"github.com/squidgo/proxycore/internal/metrics"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/internal/pinning"
	"github.com/squidgo/proxycore/internal/reactorcore"
	"github.com/squidgo/proxycore/pkg/constants"
)

// openConns tracks every live connection so shutdown can reach them:
// graceful shutdown drains each one (endGracefully), forced shutdown
// RSTs them immediately (spec.md §4.7).
type openConns struct {
	mu   sync.Mutex
	byID map[string]*connio.Connection
}

func newOpenConns() *openConns {
	return &openConns{byID: make(map[string]*connio.Connection)}
}

func (o *openConns) add(id string, c *connio.Connection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byID[id] = c
}

func (o *openConns) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byID, id)
}

func (o *openConns) snapshot() []*connio.Connection {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*connio.Connection, 0, len(o.byID))
	for _, c := range o.byID {
		out = append(out, c)
	}
	return out
}

func main() {
	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	listenAddr := flag.String("listen", ":3128", "listen address")
	flag.Parse()

	log := obslog.New("proxycore", *logLevel)
	met := metrics.NewDefault()

	snap := config.Default()
	snap.ListenAddr = *listenAddr
	store := config.NewStore(snap)

	authReg := auth.NewRegistry()
	userCache := auth.NewUserCache(constants.DefaultAuthenticateTTL)
	driver := auth.NewDriver(authReg, userCache, snap.MaxUserIP, snap.StrictMaxUserIP)
	pins := pinning.NewRegistry()
	access := accesslog.New(snap.LogDestinations, log.Named("accesslog"))
	defer access.Close()

	store.OnSwap(func(old, next *config.Snapshot) {
		userCache.FlushAllMatchCaches()
		log.Info("configuration reloaded", "generation", next.Generation)
	})

	r := reactorcore.New(1024, log)
	defer r.Stop()

	ln, err := net.Listen("tcp", store.Load().ListenAddr)
	if err != nil {
		log.Error("listen failed", "addr", store.Load().ListenAddr, "error", err)
		os.Exit(1)
	}
	log.Info("listening", "addr", ln.Addr().String())

	conns := newOpenConns()

	shutdown := make(chan os.Signal, 2)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	accepting := true
	go func() {
		<-shutdown
		log.Info("graceful shutdown requested")
		accepting = false
		ln.Close()

		select {
		case <-shutdown:
			log.Warn("forced shutdown requested, closing connections with RST")
			for _, c := range conns.snapshot() {
				c.ForceClose()
			}
		case <-time.After(constants.GracefulShutdownDrain):
		}
	}()

	for accepting {
		c, err := ln.Accept()
		if err != nil {
			if !accepting {
				break
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		met.ConnectionsOpen.Inc()
		connID := uuid.NewString()

		cfg := store.Load()
		conn := connio.New(connID, c, cfg, r)
		conns.add(connID, conn)
		conn.Close.Register(func(closing bool) {
			met.ConnectionsClosed.Inc()
			conns.remove(connID)
		})

		co := coordinator.New(cfg, driver, authReg, pins, log.Named(connID), met, coordinator.Hooks{}, r, access)

		parserCfg := httpmsg.Config{
			Mode:           httpmsg.ModeForward,
			MaxHeaderBytes: cfg.MaxRequestHeaderBytes,
			MaxBodyBytes:   cfg.MaxRequestBodyBytes,
		}
		co.ServeConnection(r, conn, parserCfg, false, false)
	}

	log.Info("drain phase: requesting endGracefully on every open connection", "grace", constants.GracefulShutdownDrain)
	var wg sync.WaitGroup
	drainCo := coordinator.New(store.Load(), driver, authReg, pins, log, met, coordinator.Hooks{}, r, access)
	for _, c := range conns.snapshot() {
		wg.Add(1)
		go func(c *connio.Connection) {
			defer wg.Done()
			drainCo.DrainAndClose(c, constants.GracefulShutdownDrain)
		}(c)
	}
	wg.Wait()
	log.Info("shutdown complete")
}
