// Package orchestrator brings up MANTIS's protocol emulators against a
// shared Storage/GeoLocator/detection.Engine, supports hot-reconfigure of
// individual services, and tears everything down in the reverse order on
// shutdown. Modeled on the teacher's cmd/tarsy/main.go construction order
// (config -> database client -> services -> workers -> API server) but
// completed into the bring-up/shutdown sequence spec §4.6 requires, since
// the teacher's main.go never itself reaches a full graceful-shutdown
// implementation.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syn2much/mantis/internal/config"
	"github.com/syn2much/mantis/internal/detection"
	"github.com/syn2much/mantis/internal/emulators/adb"
	"github.com/syn2much/mantis/internal/emulators/ftp"
	"github.com/syn2much/mantis/internal/emulators/httpd"
	"github.com/syn2much/mantis/internal/emulators/mongodb"
	"github.com/syn2much/mantis/internal/emulators/mysql"
	"github.com/syn2much/mantis/internal/emulators/redis"
	"github.com/syn2much/mantis/internal/emulators/smb"
	"github.com/syn2much/mantis/internal/emulators/smtp"
	"github.com/syn2much/mantis/internal/emulators/ssh"
	"github.com/syn2much/mantis/internal/emulators/telnet"
	"github.com/syn2much/mantis/internal/emulators/vnc"
	"github.com/syn2much/mantis/internal/geo"
	"github.com/syn2much/mantis/internal/service"
	"github.com/syn2much/mantis/internal/storage"
)

// bindGrace is how long startInstance waits to see whether Serve returned
// immediately with a bind failure before considering the listener up.
const bindGrace = 150 * time.Millisecond

// emulatorServer is the shape every protocol emulator satisfies.
type emulatorServer interface {
	Serve(ctx context.Context) error
}

// factory constructs one emulator instance bound to port, reading any
// extra per-service knobs out of cfg.Extra.
type factory func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error)

var registry = map[string]factory{
	"ssh": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		keyPath, _ := cfg.Extra["host_key_path"].(string)
		if keyPath == "" {
			keyPath = "./data/ssh_host_key"
		}
		return ssh.New(base, port, cfg.Banner, keyPath)
	},
	"http": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return httpd.New(base, port), nil
	},
	"ftp": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return ftp.New(base, port, cfg.Banner), nil
	},
	"smb": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return smb.New(base, port), nil
	},
	"mysql": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return mysql.New(base, port), nil
	},
	"telnet": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return telnet.New(base, port, cfg.Banner), nil
	},
	"smtp": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return smtp.New(base, port, cfg.Banner), nil
	},
	"mongodb": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return mongodb.New(base, port), nil
	},
	"vnc": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		name, _ := cfg.Extra["desktop_name"].(string)
		if name == "" {
			name = "QEMU"
		}
		return vnc.New(base, port, name), nil
	},
	"redis": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return redis.New(base, port), nil
	},
	"adb": func(base *service.Base, port int, cfg config.ServiceConfig) (emulatorServer, error) {
		return adb.New(base, port), nil
	},
}

// Dashboard is the subset of *dashboard.Server the orchestrator drives.
type Dashboard interface {
	Start(ctx context.Context, addr string) error
	Shutdown(ctx context.Context) error
	Broadcast(kind string, data any)
}

// runningInstance tracks every listener bound for one service name (more
// than one only for telnet's optional additional ports).
type runningInstance struct {
	cancels []context.CancelFunc
	dones   []chan struct{}
}

// Orchestrator owns Storage, the GeoLocator, the detection Engine, every
// running protocol emulator, and the dashboard backend, and sequences
// their bring-up and shutdown per spec §4.6.
type Orchestrator struct {
	store  *storage.Store
	geo    *geo.Locator
	engine *detection.Engine
	dash   Dashboard
	logger *slog.Logger

	ctx context.Context

	mu      sync.Mutex
	cfg     *config.Config
	running map[string]*runningInstance
}

// New constructs an Orchestrator over already-open dependencies. dash may
// be nil if the dashboard is disabled.
func New(cfg *config.Config, store *storage.Store, geoLocator *geo.Locator, engine *detection.Engine, dash Dashboard) *Orchestrator {
	return &Orchestrator{
		store:   store,
		geo:     geoLocator,
		engine:  engine,
		dash:    dash,
		logger:  slog.Default().With("component", "orchestrator"),
		cfg:     cfg,
		running: make(map[string]*runningInstance),
	}
}

// Config returns a snapshot of the current configuration.
func (o *Orchestrator) Config() config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.cfg
}

// ResetStatefulRules clears the detection engine's sliding-window state
// and sticky-alerted sets. Exposed so the dashboard's database-reset
// route can clear it in concert with Storage's reset, per spec §4.4.
func (o *Orchestrator) ResetStatefulRules() {
	o.engine.ResetStatefulRules()
}

// Start brings up every enabled service in deterministic (sorted) order,
// then the dashboard. Services that fail to bind are logged and skipped;
// a single service's BindError never aborts the run.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx = ctx

	names := make([]string, 0, len(o.cfg.Services))
	for name := range o.cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svcCfg := o.cfg.Services[name]
		if !svcCfg.Enabled {
			continue
		}
		o.startService(name, svcCfg)
	}

	if o.dash != nil && o.cfg.Dashboard.Enabled {
		addr := fmt.Sprintf("%s:%d", o.cfg.Dashboard.Host, o.cfg.Dashboard.Port)
		go func() {
			if err := o.dash.Start(ctx, addr); err != nil {
				o.logger.Error("dashboard stopped", "error", err)
			}
		}()
	}
	return nil
}

// startService binds every port svcCfg implies (the configured port, plus
// telnet's optional "additional_ports" extra knob) and records the
// resulting listeners under name.
func (o *Orchestrator) startService(name string, svcCfg config.ServiceConfig) {
	build, ok := registry[name]
	if !ok {
		o.logger.Warn("unknown service in config, skipping", "service", name)
		return
	}

	ports := []int{svcCfg.Port}
	if name == "telnet" {
		ports = append(ports, extraPorts(svcCfg)...)
	}

	for _, port := range ports {
		base := service.NewBase(name, o.store, o.geo, o.engine)
		emu, err := build(base, port, svcCfg)
		if err != nil {
			o.logger.Error("failed to construct emulator", "service", name, "port", port, "error", err)
			continue
		}
		o.startInstance(name, port, emu)
	}
}

// startInstance runs emu.Serve in a goroutine and waits bindGrace to
// distinguish an immediate bind failure (logged, discarded) from a
// healthy listener (tracked for later Stop).
func (o *Orchestrator) startInstance(name string, port int, emu emulatorServer) {
	ctx, cancel := context.WithCancel(o.ctx)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		errCh <- emu.Serve(ctx)
	}()

	select {
	case err := <-errCh:
		cancel()
		o.logger.Error("service failed to bind", "service", name, "port", port, "error", err)
	case <-time.After(bindGrace):
		o.mu.Lock()
		inst, ok := o.running[name]
		if !ok {
			inst = &runningInstance{}
			o.running[name] = inst
		}
		inst.cancels = append(inst.cancels, cancel)
		inst.dones = append(inst.dones, done)
		o.mu.Unlock()
		o.logger.Info("service up", "service", name, "port", port)
	}
}

func extraPorts(svcCfg config.ServiceConfig) []int {
	raw, ok := svcCfg.Extra["additional_ports"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []int:
		return v
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	default:
		return nil
	}
}

// stopService cancels every listener bound for name and waits (briefly)
// for their accept loops to exit, per spec §5's "brief grace period to
// drain" shutdown posture.
func (o *Orchestrator) stopService(name string) {
	o.mu.Lock()
	inst, ok := o.running[name]
	delete(o.running, name)
	o.mu.Unlock()
	if !ok {
		return
	}
	for _, cancel := range inst.cancels {
		cancel()
	}
	deadline := time.After(5 * time.Second)
	for _, done := range inst.dones {
		select {
		case <-done:
		case <-deadline:
		}
	}
}

// Stop shuts the dashboard down first, then every running service, then
// the detection engine's webhook client, the GeoLocator's HTTP client,
// and finally Storage. This ordering is load-bearing: each later stage
// depends on nothing the earlier stages still hold open, and it is the
// exact reverse of Start's bring-up order.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.dash != nil {
		if err := o.dash.Shutdown(ctx); err != nil {
			o.logger.Warn("dashboard shutdown error", "error", err)
		}
	}

	o.mu.Lock()
	names := make([]string, 0, len(o.running))
	for name := range o.running {
		names = append(names, name)
	}
	o.mu.Unlock()
	for _, name := range names {
		o.stopService(name)
	}

	o.engine.Close()
	o.geo.Close()
	return o.store.Close()
}

// UpdateServiceConfig implements the hot-reconfigure path from spec §4.6:
// stop the running instance (if any), mutate the config record, start a
// new instance if the patch leaves it enabled, and broadcast the change
// to dashboard clients. Errors restarting the service are reported but
// the config mutation is left in place.
func (o *Orchestrator) UpdateServiceConfig(ctx context.Context, name string, patch config.ServiceConfig) error {
	if _, ok := registry[name]; !ok {
		return fmt.Errorf("unknown service %q", name)
	}

	o.stopService(name)

	o.mu.Lock()
	o.cfg.Services[name] = patch
	o.mu.Unlock()

	if patch.Enabled {
		o.startService(name, patch)
	}

	if o.dash != nil {
		o.dash.Broadcast("config_change", map[string]any{"service": name, "config": patch})
	}
	return nil
}
