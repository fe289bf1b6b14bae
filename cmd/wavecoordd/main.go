// Command wavecoordd runs the Rolling Frontier Manager as a long-lived
// service, wiring logging, tracing, metrics, persistence, notification and
// scheduling the way services/orchestrator/main.go wires its own
// dependencies: logging.Init first, signal.NotifyContext for graceful
// shutdown, otelinit-style tracer/meter setup, an HTTP mux for health and
// debug endpoints, then a blocking wait on ctx.Done() before an ordered
// shutdown sequence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/wavecoord/internal/config"
	"github.com/swarmguard/wavecoord/internal/configwatch"
	"github.com/swarmguard/wavecoord/internal/logging"
	"github.com/swarmguard/wavecoord/internal/metrics"
	"github.com/swarmguard/wavecoord/internal/notify"
	"github.com/swarmguard/wavecoord/internal/ports"
	"github.com/swarmguard/wavecoord/internal/rolling"
	"github.com/swarmguard/wavecoord/internal/schedule"
	"github.com/swarmguard/wavecoord/internal/stealing"
	"github.com/swarmguard/wavecoord/internal/store"
	"github.com/swarmguard/wavecoord/internal/telemetry"
	"github.com/swarmguard/wavecoord/internal/wavetypes"

	nats "github.com/nats-io/nats.go"
)

const serviceName = "wavecoord"

func main() {
	logger := logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerProvider, err := telemetry.InitTracer(ctx, serviceName)
	if err != nil {
		logger.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	meterProvider, err := telemetry.InitMetrics(ctx, serviceName)
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	providers := telemetry.Providers{TracerProvider: tracerProvider, MeterProvider: meterProvider}
	defer telemetry.Flush(context.Background(), providers)

	meter := otel.GetMeterProvider().Meter(serviceName)
	instruments, err := metrics.New(meter)
	if err != nil {
		logger.Error("failed to init metric instruments", "error", err)
		os.Exit(1)
	}
	tracer := telemetry.Tracer(serviceName)

	cfgPath := os.Getenv("WAVECOORD_CONFIG_PATH")
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load configuration", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	dataDir := os.Getenv("WAVECOORD_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	frontierStore, err := store.Open(dataDir, meter)
	if err != nil {
		logger.Error("failed to open frontier store", "error", err)
		os.Exit(1)
	}
	defer frontierStore.Close()

	var notification ports.Notification
	if natsURL := os.Getenv("WAVECOORD_NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		notification = notify.New(nc, "wavecoord.events")
	}

	stealingEngine := stealing.New(&loggingAssignmentSink{logger: logger}, autoApproval{}, nil)

	manager := rolling.New(cfg, rolling.Deps{
		Persistence:  frontierStore,
		Notification: notification,
		Logger:       logger,
		Instruments:  instruments,
		Tracer:       tracer,
		Stealing:     stealingEngine,
	})

	planID := os.Getenv("WAVECOORD_PLAN_ID")
	if planID == "" {
		planID = "default"
	}
	tasks, capacities := seedPlan()
	if err := manager.Initialize(ctx, planID, tasks, capacities); err != nil {
		logger.Error("failed to initialize frontier manager", "error", err)
		os.Exit(1)
	}

	if cfgPath != "" {
		if watcher, err := configwatch.New(cfgPath, logger); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		} else if err := watcher.Start(filepath.Dir(cfgPath)); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		} else {
			defer watcher.Stop()
			go func() {
				for newCfg := range watcher.Updates {
					logger.Info("configuration reloaded", "path", cfgPath)
					_ = newCfg // logged only; the running manager keeps its boot-time cfg
				}
			}()
		}
	}

	scheduler := schedule.New(meter, logger)
	if _, err := scheduler.AddJob(schedule.Job{
		Name:     "periodic-snapshot",
		CronExpr: "0 */5 * * * *",
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context) error {
			state := manager.GetState(ctx)
			return frontierStore.SaveState(ctx, state)
		},
	}); err != nil {
		logger.Warn("failed to register periodic snapshot job", "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/state", func(w http.ResponseWriter, r *http.Request) {
		state := manager.GetState(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	})
	mux.HandleFunc("/v1/tasks/transition", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TaskID string               `json:"taskId"`
			Next   wavetypes.TaskState `json:"next"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		ready, err := manager.ProcessTaskStateChange(r.Context(), req.TaskID, req.Next)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"readyTasks": ready})
	})

	addr := os.Getenv("WAVECOORD_LISTEN_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("wavecoord started", "addr", addr, "plan", planID)
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("frontier manager shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// loggingAssignmentSink is the bootstrap ports.AssignmentSink: it has no
// issue-tracker or roster system to write back to, so it only logs the
// reassignment and reports success, leaving the Dependency Tracker's own
// Reassign as the system of record until a real adapter is wired.
type loggingAssignmentSink struct {
	logger *slog.Logger
}

func (s *loggingAssignmentSink) UpdateTaskAssignment(ctx context.Context, taskID, newTeam string) error {
	s.logger.Info("task reassigned", "task", taskID, "team", newTeam)
	return nil
}

func (s *loggingAssignmentSink) RollbackTransfer(ctx context.Context, taskID, originalTeam string) error {
	s.logger.Warn("task transfer rolled back", "task", taskID, "team", originalTeam)
	return nil
}

// autoApproval is the bootstrap ports.Approval: it approves every transfer
// the Work-Stealing Engine routes through it. A deployment with a human
// review step or a Slack/ChatOps gate replaces this with a real adapter.
type autoApproval struct{}

func (autoApproval) NotifyTeamOfTransfer(ctx context.Context, req ports.TransferRequest) (bool, error) {
	return true, nil
}

// seedPlan provides the minimal bootstrap plan used when no external
// TaskSource/CapacitySource adapter is wired. A real deployment replaces this
// with ports.TaskSource/ports.CapacitySource implementations fed from an
// issue tracker or manifest.
func seedPlan() ([]*wavetypes.Task, map[string]*wavetypes.TeamCapacity) {
	now := time.Now()
	tasks := []*wavetypes.Task{
		{ID: "T001", Title: "bootstrap", Team: "alpha", EstimatedEffort: 1, CreatedAt: now, UpdatedAt: now},
	}
	capacities := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 3, Velocity: 1, Efficiency: 1, Availability: 1},
	}
	return tasks, capacities
}
