// Command signal runs the adaptive intersection controller: camera capture,
// vision classification, lane arbitration, the relay board and alerts,
// with the operator API on --listen and gRPC health on --grpc-listen.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/banshee-data/signal.report/internal/api"
	"github.com/banshee-data/signal.report/internal/charts"
	"github.com/banshee-data/signal.report/internal/config"
	"github.com/banshee-data/signal.report/internal/db"
	"github.com/banshee-data/signal.report/internal/health"
	"github.com/banshee-data/signal.report/internal/version"
)

type options struct {
	configPath string
	listen     string
	grpcListen string
	dbPath     string
	devMode    bool
	fixtures   string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("signal", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to the YAML configuration (defaults apply when empty)")
	fs.StringVar(&o.listen, "listen", ":8080", "HTTP listen address for the API and debug pages")
	fs.StringVar(&o.grpcListen, "grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	fs.StringVar(&o.dbPath, "db", "signal_journal.db", "path to the SQLite journal")
	fs.BoolVar(&o.devMode, "dev", false, "log the lights, simulate the vision model and synthesize frames")
	fs.StringVar(&o.fixtures, "fixtures", "", "directory of per-lane images to replay instead of cameras")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if !o.version && o.listen == "" {
		return nil, errors.New("listen address is required")
	}
	return &o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
	if opts.version {
		fmt.Println(version.String("signal"))
		return
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Printf("starting %s", version.String("signal"))

	journal, err := db.Open(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	var hs *health.Server
	if opts.grpcListen != "" {
		hs = health.New(opts.grpcListen)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
	}

	app, err := build(cfg, opts, journal, hs)
	if err != nil {
		return err
	}
	defer app.close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, p := range app.ports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := app.orchestrator.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("controller stopped: %v", err)
			runErr <- err
			cancel()
		}
		log.Printf("controller routine terminated")
	}()

	mux := api.NewServer(app.orchestrator, journal, cfg).ServeMux()
	if err := journal.AttachAdminRoutes(mux); err != nil {
		return err
	}
	for _, p := range app.ports {
		p.AttachAdminRoutes(mux)
	}
	charts.AttachAdminRoutes(mux, app.orchestrator)

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, opts.listen, api.LoggingMiddleware(mux))
	}()

	wg.Wait()
	select {
	case err := <-runErr:
		return err
	default:
		return nil
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
