// Package kernel assembles a simulation host from configuration: the station, the
// reasoning pipeline, the step scheduler, persistence and the web control surface.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"crewsim/pkg/agent"
	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/config"
	"crewsim/pkg/eventlog"
	"crewsim/pkg/logx"
	"crewsim/pkg/persistence"
	"crewsim/pkg/reasoning"
	"crewsim/pkg/sanitizer"
	"crewsim/pkg/scheduler"
	"crewsim/pkg/serializer"
	"crewsim/pkg/templates"
	"crewsim/pkg/webui"
	"crewsim/pkg/world"
)

// Streams derived from the configured seed, one per randomized policy.
const (
	streamSanitizer uint64 = iota + 1
	streamFallback
	streamJitter
)

// Kernel owns every long-lived component of a simulation host.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	Registry   *prometheus.Registry
	Recorder   *metrics.PrometheusRecorder
	Station    *world.Station
	Store      *persistence.Store // nil without a database path
	EventLog   *eventlog.Writer   // nil without an event log directory
	LLMFactory *agent.LLMClientFactory
	Client     llm.LLMClient // nil when the backend is unavailable
	Serializer *serializer.Serializer
	Reasoner   *reasoning.Orchestrator
	Scheduler  *scheduler.Scheduler
	WebServer  *webui.Server

	mu      sync.Mutex
	started bool
	stopped bool
	webDone <-chan struct{}
}

// NewKernel builds every component. Nothing runs until Start or Run.
func NewKernel(parent context.Context, cfg *config.Config) (*Kernel, error) {
	if cfg == nil {
		return nil, errors.New("kernel: config is required")
	}
	logx.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(parent)
	k := &Kernel{
		ctx:    ctx,
		cancel: cancel,
		Config: cfg,
		Logger: logx.NewLogger("kernel"),
	}
	if err := k.initializeServices(); err != nil {
		k.closeStores()
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices() error {
	cfg := k.Config
	seed := uint64(cfg.Sanitizer.Seed) //nolint:gosec // Seed bits are reused as-is

	k.Registry = prometheus.NewRegistry()
	k.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	k.Recorder = metrics.NewPrometheusRecorder(k.Registry)

	roster, err := world.LoadRoster(cfg.Crew.RosterFile)
	if err != nil {
		return err //nolint:wrapcheck // Already descriptive
	}

	var memories world.MemoryStore
	if cfg.Storage.DatabasePath != "" {
		k.Store, err = persistence.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		memories = k.Store
	}
	k.Station = world.NewStation(roster, memories, nil)

	if cfg.Storage.EventLogDir != "" {
		k.EventLog, err = eventlog.NewWriter(cfg.Storage.EventLogDir)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
	}

	k.LLMFactory, err = agent.NewLLMClientFactory(cfg, k.Recorder, newRand(seed, streamJitter))
	if err != nil {
		return fmt.Errorf("failed to create LLM client factory: %w", err)
	}
	k.Client, err = k.LLMFactory.CreateClient()
	if err != nil {
		k.Logger.Warn("Reasoning backend unavailable, using fallback decisions: %v", err)
		k.Client = nil
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	k.Serializer = serializer.New(k.Recorder)
	san := sanitizer.New(roster, newRand(seed, streamSanitizer), sanitizer.Config{HistorySize: cfg.Sanitizer.HistorySize}, k.Recorder)
	k.Reasoner, err = reasoning.NewOrchestrator(reasoning.Deps{
		Client:     k.Client,
		Serializer: k.Serializer,
		Sanitizer:  san,
		Retry:      k.LLMFactory.RetryPolicy(),
		Fallback:   reasoning.NewFallbackPolicy(newRand(seed, streamFallback), nil),
		Renderer:   renderer,
		Counter:    k.LLMFactory.Counter(),
		Recorder:   k.Recorder,
	}, reasoning.Config{
		MaxTokens:       cfg.Prompt.MaxTokens,
		Temperature:     float32(cfg.Prompt.Temperature),
		MaxMemories:     cfg.Prompt.MaxMemories,
		MaxObservations: cfg.Prompt.MaxObservations,
		MaxPromptTokens: cfg.Prompt.MaxPromptTokens,
		Crew:            roster.Names(),
		Locations:       roster.Locations,
	})
	if err != nil {
		return fmt.Errorf("failed to create reasoning orchestrator: %w", err)
	}

	hub := webui.NewHub()
	var sinks []scheduler.Sink
	if k.Store != nil {
		sinks = append(sinks, k.Store)
	}
	if k.EventLog != nil {
		sinks = append(sinks, k.EventLog)
	}
	k.Scheduler = scheduler.New(scheduler.Config{
		WorkersPerTick:    cfg.Scheduler.WorkersPerTick,
		CacheDuration:     cfg.Scheduler.CacheDuration,
		TickInterval:      cfg.Scheduler.TickInterval.Std(),
		SimMinutesPerTick: cfg.Scheduler.SimMinutesPerTick,
	}, scheduler.Deps{
		World:       k.Station,
		Reasoner:    k.Reasoner,
		Sinks:       sinks,
		Broadcaster: hub,
		Recorder:    k.Recorder,
	})

	webDeps := webui.Deps{
		Simulation: k.Scheduler,
		Station:    k.Station,
		Hub:        hub,
		Gatherer:   k.Registry,
	}
	if limiter := k.LLMFactory.Limiter(); limiter != nil {
		webDeps.Limiter = limiter
	}
	if breaker := k.LLMFactory.Breaker(); breaker != nil {
		webDeps.Circuit = breaker
	}
	if k.Store != nil {
		webDeps.Journal = k.Store
	}
	k.WebServer = webui.NewServer(k.ctx, webDeps)

	k.Logger.Info("Kernel ready: %d workers, provider %s (%s), session %s",
		len(roster.Crew), cfg.Provider.Name, cfg.Provider.Model, k.Scheduler.SessionID())
	return nil
}

// Start opens the session, serves the web UI when enabled and starts the live loop
// when autostart is set.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return errors.New("kernel already started")
	}
	if err := k.openSession(); err != nil {
		return err
	}
	if k.Config.WebUI.Enabled {
		k.webDone = k.WebServer.StartServer(k.ctx, k.Config.WebUI.Listen)
	}
	if k.Config.Scheduler.Autostart {
		if err := k.Scheduler.Start(k.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	k.started = true
	return nil
}

// Run takes steps ticks without pacing, for headless runs.
func (k *Kernel) Run(ctx context.Context, steps int) error {
	k.mu.Lock()
	if !k.started {
		if err := k.openSession(); err != nil {
			k.mu.Unlock()
			return err
		}
		k.started = true
	}
	k.mu.Unlock()

	start := time.Now()
	if err := k.Scheduler.Run(ctx, steps); err != nil {
		return fmt.Errorf("run interrupted at step %d: %w", k.Scheduler.Step(), err)
	}
	k.Logger.Info("Completed %d steps in %v (sim time %s)", steps, time.Since(start).Round(time.Millisecond), k.Station.Clock())
	return nil
}

// Done is closed when the kernel's context ends.
func (k *Kernel) Done() <-chan struct{} {
	return k.ctx.Done()
}

// Shutdown stops the live loop, waits for the web server, records the session end
// and closes every store. It is safe to call more than once.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return nil
	}
	k.stopped = true
	started := k.started
	webDone := k.webDone
	k.mu.Unlock()

	var errs []error
	if err := k.Scheduler.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		errs = append(errs, err)
	}
	k.cancel()
	if webDone != nil {
		select {
		case <-webDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for web server: %w", ctx.Err()))
		}
	}
	k.WebServer.Hub().Close()
	k.Serializer.Close()

	if started && k.Store != nil {
		//nolint:contextcheck // Session end must be recorded even when ctx is done
		if err := k.Store.EndSession(context.Background(), k.Scheduler.SessionID(), k.Scheduler.Step()); err != nil {
			errs = append(errs, fmt.Errorf("failed to end session: %w", err))
		}
	}
	errs = append(errs, k.closeStores()...)

	k.Logger.Info("Kernel stopped after %d steps", k.Scheduler.Step())
	return errors.Join(errs...)
}

// openSession must be called with k.mu held.
func (k *Kernel) openSession() error {
	if k.Store == nil {
		return nil
	}
	err := k.Store.CreateSession(k.ctx, k.Scheduler.SessionID(), k.Config.Provider.Name, k.Config.Provider.Model)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

func (k *Kernel) closeStores() []error {
	var errs []error
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event log: %w", err))
		}
	}
	if k.Store != nil {
		if err := k.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errs
}

func newRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream)) //nolint:gosec // Simulation randomness
}
