package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/affiliatebot/internal/activity"
	"github.com/example/affiliatebot/internal/api"
	"github.com/example/affiliatebot/internal/config"
	"github.com/example/affiliatebot/internal/driver"
	"github.com/example/affiliatebot/internal/filter"
	"github.com/example/affiliatebot/internal/logging"
	"github.com/example/affiliatebot/internal/session"
	"github.com/example/affiliatebot/internal/store"
)

func main() {
	ctx := context.Background()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to config file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `affiliatebot - affiliate creator invitation automation

Usage:
  affiliatebot [--config config.yaml] <command>

Commands:
  serve          Run the dashboard API server with the orchestrator attached
  run            Start a session in the foreground until interrupted
  check-login    Initialize the browser and report login state

Examples:
  affiliatebot --config config.yaml serve
  AFFILIATEBOT_HEADLESS=0 affiliatebot run
`)
	}

	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level)
	log.Info("affiliatebot starting", "version", "0.1.0", "db_path", cfg.Database.Path)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Error("db open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Error("db migration failed", "err", err)
		os.Exit(1)
	}

	al := activity.NewLogger(st, cfg.Logging.Level)
	fl := filter.New(st, cfg.Logging.Level)
	drv := driver.New(cfg)
	mgr := session.NewManager(cfg, st, drv, fl, al, session.DefaultPacing())

	cmd := flag.Arg(0)
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, st, al, mgr)
	case "run":
		err = runForeground(ctx, mgr)
	case "check-login":
		err = runCheckLogin(ctx, drv)
	default:
		err = fmt.Errorf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Error("command failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
	log.Info("command completed", "cmd", cmd)
}

func runServe(ctx context.Context, cfg *config.Config, st *store.Store, al *activity.Logger, mgr *session.Manager) error {
	srv := api.NewServer(st, al, mgr, cfg.Logging.Level)
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logging.New(cfg.Logging.Level).Info("api server listening", "addr", cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		_ = mgr.Stop(ctx, "Server shutting down")
		return httpSrv.Shutdown(ctx)
	}
}

func runForeground(ctx context.Context, mgr *session.Manager) error {
	sess, err := mgr.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("session %d running, Ctrl+C to stop\n", sess.ID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return mgr.Stop(ctx, "Interrupted by operator")
}

func runCheckLogin(ctx context.Context, drv *driver.Driver) error {
	if err := drv.Initialize(ctx); err != nil {
		return err
	}
	defer drv.Close()
	ok, err := drv.Login(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("logged in: %v\n", ok)
	return nil
}
