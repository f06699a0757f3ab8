// Command dbcore opens the pools described by a config file and either runs
// one statement, prints pool status, or serves Prometheus metrics.
//
//	dbcore -config dbcore.yaml -status
//	dbcore -config dbcore.yaml -pool main -exec "SELECT count(*) FROM users"
//	dbcore -config dbcore.yaml -metrics-addr :9100
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aeglx/WeDrawOS-sub006/config"
	"github.com/Aeglx/WeDrawOS-sub006/core"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
)

var (
	configPath  = flag.String("config", "", "YAML config file; DBCORE_* variables override it")
	poolID      = flag.String("pool", "", "pool to run -exec on (defaults to the transaction default pool)")
	execSQL     = flag.String("exec", "", "statement to run")
	showStatus  = flag.Bool("status", false, "print the status of every pool as JSON")
	metricsAddr = flag.String("metrics-addr", "", "serve /metrics on this address until interrupted")
	timeout     = flag.Duration("timeout", 30*time.Second, "timeout for -exec")
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Parse()

	if *execSQL == "" && !*showStatus && *metricsAddr == "" {
		fmt.Println("usage: dbcore -config <file> [-status] [-exec <sql> [-pool <id>]] [-metrics-addr <addr>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if *metricsAddr != "" && cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "dbcore"
	}
	db, err := core.Open(ctx, cfg, core.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *execSQL != "" {
		id := *poolID
		if id == "" {
			id = cfg.Transaction.DefaultPool
		}
		if id == "" {
			if ids := cfg.PoolIDs(); len(ids) == 1 {
				id = ids[0]
			}
		}
		execCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		res, err := db.Pools().ExecuteQuery(execCtx, id, *execSQL, nil, pool.QueryOptions{})
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}

	if *showStatus {
		if err := enc.Encode(db.Pools().GetAllPoolsStatus()); err != nil {
			return err
		}
	}

	if *metricsAddr != "" {
		return serveMetrics(ctx, *metricsAddr, reg)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("serving metrics on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
