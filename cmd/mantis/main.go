// MANTIS is a multi-protocol honeypot: it binds emulated SSH, HTTP, FTP,
// SMB, MySQL, Telnet, SMTP, MongoDB, VNC, Redis, and ADB listeners over a
// shared capture/detection/storage stack, and serves a live dashboard
// over HTTP and WebSocket. Flag/config-loading shape follows the
// teacher's former cmd/tarsy/main.go construction order (config, then
// storage, then services, then the API server), completed with the
// graceful-shutdown sequence that file never itself reached.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syn2much/mantis/internal/config"
	"github.com/syn2much/mantis/internal/dashboard"
	"github.com/syn2much/mantis/internal/detection"
	"github.com/syn2much/mantis/internal/geo"
	"github.com/syn2much/mantis/internal/orchestrator"
	"github.com/syn2much/mantis/internal/storage"
	"github.com/syn2much/mantis/internal/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "stats" {
		os.Exit(runStats(os.Args[2:]))
	}
	os.Exit(runServe(os.Args[1:]))
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("mantis", flag.ExitOnError)
	configPath := fs.String("config", getEnv("MANTIS_CONFIG", "./config.yaml"), "path to config YAML")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	slog.Info("starting mantis", "version", version.Full())

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		return 1
	}

	geoLocator := geo.New(store, cfg.GeoAPIURL)
	engine := detection.New(store, cfg.Alerts.WebhookURL, cfg.Alerts.WebhookHeaders)

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(store, geoLocator, nil, cfg.Dashboard.AuthToken)
	}

	orch := orchestrator.New(cfg, store, geoLocator, engine, wrapDashboard(dash))
	if dash != nil {
		dash.SetOrchestrator(orch)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start orchestrator", "error", err)
		return 1
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Stop(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
		return 1
	}
	return 0
}

// runStats opens storage read-only-in-spirit (no listeners bound) and
// prints the aggregate counters, for operators who want a quick summary
// without starting the full honeypot.
func runStats(args []string) int {
	fs := flag.NewFlagSet("mantis stats", flag.ExitOnError)
	configPath := fs.String("config", getEnv("MANTIS_CONFIG", "./config.yaml"), "path to config YAML")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		return 1
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open storage:", err)
		return 1
	}
	defer store.Close()

	stats, err := store.GetStats(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read stats:", err)
		return 1
	}

	fmt.Printf("sessions: %d\n", stats.TotalSessions)
	fmt.Printf("events:   %d\n", stats.TotalEvents)
	fmt.Printf("alerts:   %d\n", stats.TotalAlerts)
	fmt.Println("events by service:")
	for svc, n := range stats.EventsByService {
		fmt.Printf("  %-10s %d\n", svc, n)
	}
	fmt.Println("top source IPs:")
	for _, ipc := range stats.TopIPs {
		fmt.Printf("  %-16s %d\n", ipc.IP, ipc.Count)
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

// dashWrapper adapts *dashboard.Server to orchestrator.Dashboard without
// an import cycle (dashboard imports config but not orchestrator).
type dashWrapper struct{ s *dashboard.Server }

func (d dashWrapper) Start(ctx context.Context, addr string) error { return d.s.Start(ctx, addr) }
func (d dashWrapper) Shutdown(ctx context.Context) error           { return d.s.Shutdown(ctx) }
func (d dashWrapper) Broadcast(kind string, data any)              { d.s.Broadcast(kind, data) }

func wrapDashboard(s *dashboard.Server) orchestrator.Dashboard {
	if s == nil {
		return nil
	}
	return dashWrapper{s: s}
}
