// Command gmond is a node-level cluster-monitoring metric daemon: it
// ingests peer metric datagrams, samples its own host, and serves a
// textual snapshot of everything it has observed to any TCP client
// allowed by its accept-channel ACLs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/trevorr/gmond/internal/channelset"
	"github.com/trevorr/gmond/internal/config"
	"github.com/trevorr/gmond/internal/core"
	"github.com/trevorr/gmond/internal/logging"
	"github.com/trevorr/gmond/internal/sampling"
	"github.com/trevorr/gmond/internal/selfstat"
	"github.com/trevorr/gmond/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		confPath      = flag.StringP("conf", "c", "/etc/gmond.conf", "path to the TOML configuration file")
		foreground    = flag.BoolP("foreground", "f", false, "do not daemonize; stay attached to the controlling terminal")
		debug         = flag.IntP("debug", "d", 0, "debug level N; any N > 0 overrides the configured debug_level")
		defaultConfig = flag.Bool("default-config", false, "print the built-in default configuration as TOML and exit")
	)
	flag.Parse()

	ignoreSIGPIPE()

	if *defaultConfig {
		printDefaultConfig()
		return 0
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmond: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "gmond: %v\n", err)
		return 1
	}

	debugLevel := cfg.Behavior.DebugLevel
	if *debug > 0 {
		debugLevel = *debug
	}
	log := logging.New(debugLevel).WithField("component", "gmond")
	if !*foreground {
		log.Debug("gmond: staying attached to controlling terminal (daemonize not implemented, running in foreground)")
	}

	reg := prometheus.NewRegistry()
	stats := selfstat.New(reg)

	set, err := channelset.Open(cfg, cfg.Behavior.Deaf, cfg.Behavior.Mute)
	if err != nil {
		log.WithError(err).Error("gmond: failed to open configured channels")
		return 1
	}
	defer set.Close()

	clk := clock.New()
	resolver := store.NewDNSResolver(2 * time.Second)
	st := store.New(resolver, clk, time.Duration(cfg.Behavior.PeerTTLSeconds)*time.Second, stats, log)

	registry := sampling.BuiltinRegistry()
	publish := core.NewPublisher(set, cfg.Behavior.Mute, stats, log)
	sched := sampling.NewScheduler(cfg.CollectionGroup, registry, clk, publish, stats, log)

	loop := core.New(cfg, set, st, sched, clk, stats, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("gmond: received shutdown signal")
		cancel()
	}()

	log.WithField("conf", *confPath).Info("gmond: starting")
	if err := loop.Run(ctx); err != nil {
		log.WithError(err).Error("gmond: runtime loop exited with error")
		return 1
	}
	return 0
}

// ignoreSIGPIPE prevents a client that has closed its read side from
// killing the process on a subsequent write.
func ignoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}

func printDefaultConfig() {
	enc := color.New(color.FgCyan)
	enc.Fprintln(os.Stdout, "# gmond default configuration")
	if err := config.WriteTOML(os.Stdout, config.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "gmond: %v\n", err)
	}
}
