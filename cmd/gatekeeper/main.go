package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tripwise/gatekeeper/internal/adaptive"
	"github.com/tripwise/gatekeeper/internal/admission"
	"github.com/tripwise/gatekeeper/internal/audit"
	"github.com/tripwise/gatekeeper/internal/config"
	"github.com/tripwise/gatekeeper/internal/db"
	"github.com/tripwise/gatekeeper/internal/metrics"
	"github.com/tripwise/gatekeeper/internal/registry"
	"github.com/tripwise/gatekeeper/internal/server"
	"github.com/tripwise/gatekeeper/internal/watcher"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 10 * time.Second

// main runs the daemon and exits on unrecoverable errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("gatekeeper failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the admission server.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gatekeeper", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	rulesPath := fs.String("rules", "", "rules file path (or env RULES_PATH)")
	listen := fs.String("listen", "", "listen address (or env LISTEN_ADDR)")
	issueToken := fs.String("issue-token", "", "print an operator token for the given subject and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(config.EnvConfigPath))
	}
	appCfg, errLoad := config.Load(config.ResolveConfigPath(path))
	if errLoad != nil {
		return errLoad
	}
	if strings.TrimSpace(*rulesPath) != "" {
		appCfg.RulesPath = config.ResolveConfigPath(*rulesPath)
	}
	if strings.TrimSpace(*listen) != "" {
		appCfg.Listen = strings.TrimSpace(*listen)
	}

	if strings.TrimSpace(*issueToken) != "" {
		token, errIssue := server.IssueOperatorToken(appCfg.JWT, *issueToken)
		if errIssue != nil {
			return errIssue
		}
		fmt.Println(token)
		return nil
	}

	return serve(ctx, appCfg)
}

// serve wires the engine, operator API, watcher and schedules, then blocks
// until a shutdown signal arrives.
func serve(ctx context.Context, appCfg config.AppConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder *audit.Recorder
	if dsn := strings.TrimSpace(appCfg.DatabaseDSN); dsn != "" {
		conn, errOpen := db.Open(dsn)
		if errOpen != nil {
			return errOpen
		}
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return errMigrate
		}
		log.Infof("audit store ready (dialect=%s)", db.DialectName(conn))
		if appCfg.Audit.Enabled {
			recorder = audit.NewRecorder(conn, appCfg.Audit.Buffer)
			defer recorder.Close()
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	aggregator := metrics.NewAggregator(promRegistry)

	reg := registry.New()
	if appCfg.RulesPath != "" {
		if errRules := reg.LoadFile(appCfg.RulesPath); errRules != nil {
			return errRules
		}
		log.Infof("rules loaded from %s (generation=%d)", appCfg.RulesPath, reg.Snapshot().Generation)
	} else {
		log.Warn("no rules file configured; requests will be allowed by fail-open until configs are pushed")
	}

	engine := admission.NewEngine(reg, admission.Options{
		Adaptive: adaptiveFromRegistry(reg),
		Metrics:  aggregator,
		Recorder: recorder,
	})

	var rulesWatcher *watcher.RulesWatcher
	if appCfg.RulesPath != "" {
		rw, errWatch := watcher.New(appCfg.RulesPath, func() error {
			return reg.LoadFile(appCfg.RulesPath)
		})
		if errWatch != nil {
			return errWatch
		}
		if errStart := rw.Start(ctx); errStart != nil {
			return errStart
		}
		rulesWatcher = rw
		defer func() { _ = rulesWatcher.Stop() }()
	}

	scheduler := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", appCfg.SweepInterval)
	if _, errCron := scheduler.AddFunc(sweepSpec, func() {
		if removed := engine.Sweep(); removed > 0 {
			log.Debugf("sweep reclaimed %d idle entries", removed)
		}
	}); errCron != nil {
		return errCron
	}
	if ctrl := engine.Adaptive(); ctrl.Enabled() {
		if _, errCron := scheduler.AddFunc("@every 15s", func() {
			ctrl.Recompute(time.Now())
		}); errCron != nil {
			return errCron
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(engine, recorder, appCfg.JWT, promRegistry)
	httpServer := &http.Server{
		Addr:    appCfg.Listen,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gatekeeper listening on %s", appCfg.Listen)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// adaptiveFromRegistry builds the throttle controller from the default or
// global config's adaptive block, when one is present and enabled.
func adaptiveFromRegistry(reg *registry.Registry) *adaptive.Controller {
	snap := reg.Snapshot()
	for _, key := range []string{registry.KeyDefault, registry.KeyGlobal} {
		cfg := snap.Lookup(key)
		if cfg == nil || cfg.Adaptive == nil || !cfg.Adaptive.Enabled {
			continue
		}
		return adaptive.NewController(true, cfg.Adaptive.Ceiling, cfg.Adaptive.Sensitivity)
	}
	return nil
}
