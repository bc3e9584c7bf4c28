package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpacer/openpacer/pkg/bridge"
	"github.com/openpacer/openpacer/pkg/config"
	"github.com/openpacer/openpacer/pkg/engine"
	"github.com/openpacer/openpacer/pkg/graph"
	"github.com/openpacer/openpacer/pkg/sim"
	"github.com/openpacer/openpacer/pkg/spool"
	"github.com/openpacer/openpacer/pkg/stores"
	"github.com/openpacer/openpacer/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transition engine daemon",
		Long: `Start the transition engine on this node and execute planned graphs
as they arrive in the spool directory.

The daemon watches the spool directory for graph documents, dispatches
their actions in dependency order, records every completed transition
in the history store, and serves Prometheus metrics when enabled.`,
		Example: `  # Run with the default configuration
  pacer run

  # Run with an explicit config file
  pacer run --config /etc/openpacer/pacer.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.NewComponentLogger("daemon").Zerolog()

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tracer != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracer.Shutdown(shutdownCtx)
		}()
	}

	history, err := stores.NewHistoryStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return err
	}
	if err := history.Init(ctx); err != nil {
		return err
	}
	defer history.Close()
	if err := history.Migrate(ctx); err != nil {
		return err
	}
	if cfg.History.Retention > 0 {
		pruned, err := history.PruneBefore(ctx, time.Now().Add(-cfg.History.Retention))
		if err != nil {
			log.Warn().Err(err).Msg("history pruning failed")
		} else if pruned > 0 {
			log.Info().Int64("pruned", pruned).Msg("expired history pruned")
		}
	}

	// Stand-ins for the cluster services until the store and fencing
	// integrations land: the executor acknowledges and confirms every
	// action, the store and fencer live in process. Fence actions and
	// summary write-backs still flow through the bridge, so outage
	// buffering and write-back settling behave as they will against the
	// real services.
	fences := &fenceIndex{}
	router := &bridgeRouter{}
	executor := sim.NewExecutor(sim.ExecutorOptions{Latency: 10 * time.Millisecond})
	store := sim.NewConfigStore([]byte(`{}`))
	fencer := sim.NewFencer(sim.FencerOptions{
		Latency: 10 * time.Millisecond,
		Resolve: fences.resolve,
	})

	// starts tracks installation times so history records carry real
	// transition durations.
	var startsMu sync.Mutex
	starts := make(map[string]time.Time)

	halted := make(chan string, 1)
	eng, err := engine.New(engine.Options{
		Executor: executor,
		Fencer:   router,
		IsCoordinator: func() bool {
			return cfg.Node.Coordinator
		},
		Notifier: engine.NotifierFunc(func(sum graph.Summary) {
			startsMu.Lock()
			started := starts[sum.UUID]
			delete(starts, sum.UUID)
			startsMu.Unlock()
			if started.IsZero() {
				started = time.Now()
			}

			rec := stores.RecordFromSummary(sum, started, time.Now())
			if err := history.SaveTransition(context.Background(), rec); err != nil {
				log.Error().Err(err).Str("uuid", sum.UUID).Msg("failed to record transition")
			}

			payload, err := json.Marshal(sum)
			if err != nil {
				log.Error().Err(err).Str("uuid", sum.UUID).Msg("failed to encode summary")
				return
			}
			if err := router.WriteBack(context.Background(), payload); err != nil {
				log.Warn().Err(err).Str("uuid", sum.UUID).Msg("summary write-back failed")
			}
		}),
		OnHalt: func(reason string) {
			select {
			case halted <- reason:
			default:
			}
		},
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
		MailboxSize: cfg.Engine.MailboxSize,
	})
	if err != nil {
		return err
	}
	executor.SetTarget(eng)
	fencer.SetTarget(eng)

	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	br, err := bridge.New(bridge.Options{
		Store:  store,
		Engine: eng,
		Fencer: fencer,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := br.Start(ctx); err != nil {
		return err
	}
	defer br.Stop()
	router.set(br)

	intake, err := spool.NewIntake(spool.Options{
		Dir:    cfg.Spool.Dir,
		Logger: logger,
		Submit: func(doc []byte) error {
			// The fence index must cover the incoming graph before any of
			// its fence actions can dispatch.
			g, err := graph.ParseDocument(doc)
			if err != nil {
				return err
			}
			fences.install(g)

			uuid, err := eng.LoadGraph(doc)
			if err != nil {
				return err
			}
			startsMu.Lock()
			starts[uuid] = time.Now()
			startsMu.Unlock()
			return nil
		},
	})
	if err != nil {
		return err
	}
	if err := intake.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = intake.Stop() }()

	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Telemetry.Metrics.Path, metrics.Handler())
		srv := &http.Server{Addr: cfg.Telemetry.Metrics.ListenAddress, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("address", cfg.Telemetry.Metrics.ListenAddress).Msg("metrics endpoint listening")
	}

	log.Info().
		Str("node", cfg.Node.Name).
		Str("spool", cfg.Spool.Dir).
		Str("history", cfg.History.Path).
		Msg("transition engine daemon running")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case reason := <-halted:
		log.Warn().Str("reason", reason).Msg("engine halted; exiting")
		return fmt.Errorf("engine halted: %s", reason)
	}
}

// bridgeRouter lets the engine reach the event bridge, which is constructed
// after the engine it serves. Requests arriving before the bridge is wired
// are rejected.
type bridgeRouter struct {
	mu sync.Mutex
	br *bridge.Bridge
}

func (r *bridgeRouter) set(br *bridge.Bridge) {
	r.mu.Lock()
	r.br = br
	r.mu.Unlock()
}

func (r *bridgeRouter) get() *bridge.Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.br
}

// RequestFence implements engine.FenceRequester.
func (r *bridgeRouter) RequestFence(ctx context.Context, node string) error {
	br := r.get()
	if br == nil {
		return fmt.Errorf("event bridge not started")
	}
	return br.RequestFence(ctx, node)
}

// WriteBack forwards a result document through the bridge so the resulting
// store diff settles instead of aborting.
func (r *bridgeRouter) WriteBack(ctx context.Context, doc []byte) error {
	br := r.get()
	if br == nil {
		return fmt.Errorf("event bridge not started")
	}
	return br.WriteBack(ctx, doc)
}

// fenceIndex maps a node to the fence action awaiting its outcome in the
// current graph. The fencing subsystem reports by node; the engine consumes
// completions by action ID.
type fenceIndex struct {
	mu      sync.Mutex
	actions map[string]int
}

func (x *fenceIndex) install(g *graph.Graph) {
	m := make(map[string]int)
	for _, a := range g.Actions() {
		if a.Task == graph.TaskFence && !a.Pseudo {
			m[a.Node] = a.ID
		}
	}
	x.mu.Lock()
	x.actions = m
	x.mu.Unlock()
}

func (x *fenceIndex) resolve(node string) (int, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	id, ok := x.actions[node]
	return id, ok
}
