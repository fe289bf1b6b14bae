// Package rolling implements the Rolling Frontier Manager: the state
// machine that owns FrontierState exclusively, drives the periodic tick
// loop, and serializes every mutation behind a bounded rollback stack.
//
// The periodic-tick/cancellation shape is adapted from cancellation.go's
// StartCleanupLoop (a single time.Ticker-driven goroutine, stopped via
// context cancellation) and scheduler.go's graceful Start/Stop lifecycle.
// Single-owner-with-deep-copy-reads follows aristath-orchestrator's
// DAG.Get/Tasks (cloneTask on every read).
package rolling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/wavecoord/internal/config"
	"github.com/swarmguard/wavecoord/internal/depgraph"
	"github.com/swarmguard/wavecoord/internal/frontier"
	"github.com/swarmguard/wavecoord/internal/loadbalance"
	"github.com/swarmguard/wavecoord/internal/metrics"
	"github.com/swarmguard/wavecoord/internal/ports"
	"github.com/swarmguard/wavecoord/internal/stealing"
	"github.com/swarmguard/wavecoord/internal/teammatch"
	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// State is the Rolling Frontier Manager's own lifecycle, distinct from
// TaskState.
type State int

const (
	Uninitialized State = iota
	Ready
	Optimizing
	ShuttingDown
)

const (
	maxRollbackDepth = 5
	maxEventHistory  = 100
)

// EventRecord is one entry in the manager's in-memory event history.
type EventRecord struct {
	Event Event
	Data  map[string]any
	At    time.Time
}

// Event re-exports ports.Event so callers of this package don't need to
// import internal/ports just to reference event names.
type Event = ports.Event

// Manager owns a single plan's FrontierState end to end.
type Manager struct {
	mu    sync.Mutex
	state State

	planID  string
	tracker *depgraph.Tracker
	cfg     config.Configuration

	frontierState *wavetypes.FrontierState
	rollbackStack []*wavetypes.FrontierState
	events        []EventRecord

	persistence  ports.Persistence
	notification ports.Notification

	// stealingEngine, when non-nil and config.WorkStealing.Enabled, is
	// consulted every optimization pass to actually move tasks between
	// teams; tasks/teamSkills/taskRequirements are the Team Matcher's view
	// of the plan that the Dependency Tracker's DependencyNode doesn't carry
	// (title, acceptance criteria, the Critical flag, skill profiles).
	stealingEngine   *stealing.Engine
	tasks            map[string]*wavetypes.Task
	teamSkills       map[string]map[string]wavetypes.TeamSkill
	taskRequirements map[string][]wavetypes.TaskRequirement

	logger      *slog.Logger
	instruments *metrics.Instruments
	tracer      trace.Tracer

	cancelTick context.CancelFunc
	tickDone   chan struct{}
}

// Deps bundles the Manager's port dependencies and ambient stack, following
// the teacher's constructor-injection style (e.g. Scheduler's struct
// literal wiring in main.go).
type Deps struct {
	Persistence  ports.Persistence
	Notification ports.Notification
	Logger       *slog.Logger
	Instruments  *metrics.Instruments
	Tracer       trace.Tracer
	Stealing     *stealing.Engine
}

// New constructs a Manager in the Uninitialized state.
func New(cfg config.Configuration, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		state:          Uninitialized,
		cfg:            cfg,
		persistence:    deps.Persistence,
		notification:   deps.Notification,
		logger:         logger,
		instruments:    deps.Instruments,
		tracer:         deps.Tracer,
		stealingEngine: deps.Stealing,
	}
}

// SetTeamProfiles supplies the Team Matcher's skill data for every team and
// the Dependency Tracker's task requirements, used by work-stealing
// candidate generation. It does not change Initialize's signature so
// callers without a skill catalog keep working with skill matching disabled
// (FindBestMatches degrades to a 1.0 skill score for unrequested tasks).
func (m *Manager) SetTeamProfiles(teamSkills map[string]map[string]wavetypes.TeamSkill, taskRequirements map[string][]wavetypes.TaskRequirement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teamSkills = teamSkills
	m.taskRequirements = taskRequirements
}

// Initialize moves Uninitialized -> Ready: it loads prior persisted state
// when the plan id matches, rebuilds the DAG, computes initial boundaries
// and starts the periodic timer.
func (m *Manager) Initialize(ctx context.Context, planID string, tasks []*wavetypes.Task, capacities map[string]*wavetypes.TeamCapacity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Uninitialized {
		return wavetypes.NewError(wavetypes.ConfigurationError, "manager already initialized", nil)
	}

	tracker, err := depgraph.New(tasks)
	if err != nil {
		return err
	}

	capClone := make(map[string]*wavetypes.TeamCapacity, len(capacities))
	for id, c := range capacities {
		capClone[id] = c.Clone()
	}

	fs := &wavetypes.FrontierState{
		PlanID:              planID,
		CoordinationVersion: 1,
		Nodes:               tracker.Snapshot(),
		Capacities:          capClone,
		LastUpdate:          time.Now(),
	}

	if m.persistence != nil {
		if prior, err := m.persistence.LoadState(ctx, planID); err == nil && prior != nil && prior.PlanID == planID {
			fs.CoordinationVersion = prior.CoordinationVersion
			fs.Optimizations = prior.Optimizations
		}
	}

	taskByID := make(map[string]*wavetypes.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t.Clone()
	}

	m.planID = planID
	m.tracker = tracker
	m.frontierState = fs
	m.tasks = taskByID

	if err := m.recalculateBoundariesLocked(ctx); err != nil {
		return err
	}

	m.state = Ready
	m.emit(ctx, ports.EventFrontierInitialized, map[string]any{"planId": planID, "version": fs.CoordinationVersion})

	tickCtx, cancel := context.WithCancel(context.Background())
	m.cancelTick = cancel
	m.tickDone = make(chan struct{})
	go m.tickLoop(tickCtx)

	return nil
}

// tickLoop runs every UpdateIntervalMS until cancelled, skipping any tick
// that lands while an optimization pass is in flight.
func (m *Manager) tickLoop(ctx context.Context) {
	defer close(m.tickDone)
	interval := time.Duration(m.cfg.UpdateIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick performs one periodic update: recompute metrics, auto-promote
// freshly-ready tasks if configured, and run optimization if any trigger
// fires. It no-ops if the manager is not Ready (e.g. mid-shutdown or
// mid-optimization).
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	if m.state != Ready {
		m.mu.Unlock()
		return
	}
	m.frontierState.Metrics = m.computeMetricsLocked(m.frontierState.Nodes, m.frontierState.Boundaries)
	m.mu.Unlock()

	if m.cfg.RealTimePromotions {
		m.promoteFreshlyReady(ctx)
	}

	if m.cfg.AdaptiveBoundaries {
		m.mu.Lock()
		triggered := m.triggersFiredLocked()
		m.mu.Unlock()
		if triggered {
			m.runOptimization(ctx)
		}
	}
}

// promoteFreshlyReady scans every completed task for newly-ready neighbors
// and promotes them, emitting task_promoted for each.
func (m *Manager) promoteFreshlyReady(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready {
		return
	}

	for id, n := range m.tracker.Snapshot() {
		if n.State != wavetypes.Completed {
			continue
		}
		promotable, err := m.tracker.ReadyAfterCompletion(id)
		if err != nil || len(promotable) == 0 {
			continue
		}
		for _, p := range promotable {
			if err := m.tracker.Transition(p, wavetypes.Ready); err == nil {
				m.bumpVersionLocked()
				m.emitLocked(ctx, ports.EventTaskPromoted, map[string]any{"task": p})
			}
		}
	}
}

// triggersFiredLocked evaluates the three documented optimization triggers.
// Caller must hold m.mu.
func (m *Manager) triggersFiredLocked() bool {
	if m.frontierState == nil {
		return false
	}
	metrics := m.frontierState.Metrics
	if metrics.Throughput < m.cfg.OptimizationThreshold {
		return true
	}
	if len(metrics.BottleneckTeams) > 0 {
		return true
	}
	if metrics.BlockedTaskRatio > 0.3 {
		return true
	}
	return false
}

// ProcessTaskStateChange transitions taskID to next and returns the set of
// newly-ready task ids. Transitioning to the current state is a documented
// no-op (empty result, no version bump).
func (m *Manager) ProcessTaskStateChange(ctx context.Context, taskID string, next wavetypes.TaskState) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Ready {
		return nil, wavetypes.NewError(wavetypes.ConfigurationError, "manager is not Ready", map[string]any{"state": m.state})
	}

	m.pushSnapshotLocked()

	node, ok := m.tracker.Node(taskID)
	if !ok {
		m.popSnapshotLocked()
		return nil, wavetypes.NewError(wavetypes.DependencyViolation, fmt.Sprintf("unknown task %q", taskID), nil)
	}
	if node.State == next {
		m.popSnapshotLocked()
		return nil, nil
	}

	if err := m.tracker.Transition(taskID, next); err != nil {
		m.rollbackLocked(ctx, err)
		return nil, err
	}

	var ready []string
	if next == wavetypes.Completed {
		promotable, err := m.tracker.ReadyAfterCompletion(taskID)
		if err != nil {
			m.rollbackLocked(ctx, err)
			return nil, err
		}
		ready = promotable
	}

	m.bumpVersionLocked()
	m.frontierState.Nodes = m.tracker.Snapshot()
	return ready, nil
}

// RecalculateBoundaries re-derives boundaries from the current DAG snapshot,
// replacing them atomically.
func (m *Manager) RecalculateBoundaries(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready {
		return wavetypes.NewError(wavetypes.ConfigurationError, "manager is not Ready", nil)
	}
	m.pushSnapshotLocked()
	if err := m.recalculateBoundariesLocked(ctx); err != nil {
		m.rollbackLocked(ctx, err)
		return err
	}
	m.bumpVersionLocked()
	m.emitLocked(ctx, ports.EventBoundaryAdjusted, map[string]any{"boundaries": len(m.frontierState.Boundaries)})
	return nil
}

// recalculateBoundariesLocked computes boundaries via the Frontier
// Calculator and updates aggregate metrics. Caller must hold m.mu.
func (m *Manager) recalculateBoundariesLocked(ctx context.Context) error {
	nodes := m.tracker.Snapshot()
	ready := m.tracker.Ready()

	perTeamMax := make(map[string]int, len(m.frontierState.Capacities))
	for id, c := range m.frontierState.Capacities {
		perTeamMax[id] = c.MaxConcurrentTasks
	}

	boundaries, err := frontier.Calculate(frontier.Input{
		Nodes:       nodes,
		Ready:       ready,
		Capacities:  m.frontierState.Capacities,
		CurrentWave: m.currentWaveLocked(),
		Weights: frontier.Weights{
			Throughput:   m.cfg.ObjectiveWeights.Throughput,
			Coordination: m.cfg.ObjectiveWeights.Coordination,
			Risk:         m.cfg.ObjectiveWeights.Risk,
			Balance:      m.cfg.ObjectiveWeights.Balance,
		},
		Constraints: frontier.Constraints{
			MaxWaveSize:        m.cfg.BoundaryConstraints.MaxWaveSize,
			MaxConcurrentTasks: perTeamMax,
			CriticalPathBuffer: m.cfg.BoundaryConstraints.CriticalPathBuffer,
		},
	})
	if err != nil {
		return err
	}

	frontierIn := frontier.Input{Nodes: nodes, Capacities: m.frontierState.Capacities, Constraints: frontier.Constraints{
		MaxWaveSize:        m.cfg.BoundaryConstraints.MaxWaveSize,
		MaxConcurrentTasks: perTeamMax,
	}}
	for _, b := range boundaries {
		if err := frontier.ValidateCapacity(b, frontierIn); err != nil {
			return err
		}
	}

	m.frontierState.Boundaries = boundaries
	m.frontierState.Metrics = m.computeMetricsLocked(nodes, boundaries)
	m.frontierState.LastUpdate = time.Now()
	return nil
}

// frontierInputLocked builds a minimal frontier.Input snapshot (nodes,
// capacities, constraints) for the calculator helpers (ValidateCapacity,
// CompositeScore) used outside the main Calculate path, e.g. the
// SplitWave/MergeWaves/DelayTask mechanics. Caller must hold m.mu.
func (m *Manager) frontierInputLocked() frontier.Input {
	perTeamMax := make(map[string]int, len(m.frontierState.Capacities))
	for id, c := range m.frontierState.Capacities {
		perTeamMax[id] = c.MaxConcurrentTasks
	}
	return frontier.Input{
		Nodes:      m.frontierState.Nodes,
		Capacities: m.frontierState.Capacities,
		Constraints: frontier.Constraints{
			MaxWaveSize:        m.cfg.BoundaryConstraints.MaxWaveSize,
			MaxConcurrentTasks: perTeamMax,
			CriticalPathBuffer: m.cfg.BoundaryConstraints.CriticalPathBuffer,
		},
	}
}

func (m *Manager) currentWaveLocked() int {
	max := 0
	for _, n := range m.tracker.Snapshot() {
		if n.Wave > max {
			max = n.Wave
		}
	}
	return max + 1
}

func (m *Manager) computeMetricsLocked(nodes map[string]*wavetypes.DependencyNode, boundaries []*wavetypes.WaveBoundary) wavetypes.AggregateMetrics {
	lbMetrics := loadbalance.ComputeMetrics(m.frontierState.Capacities, loadbalance.DefaultThresholds())

	parallelism := 0
	if len(boundaries) > 0 {
		parallelism = boundaries[0].Parallelism
	}

	blocked, total := 0, 0
	for _, n := range nodes {
		total++
		if n.State == wavetypes.Blocked {
			blocked++
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(blocked) / float64(total)
	}

	return wavetypes.AggregateMetrics{
		Throughput:          metrics.Throughput(parallelism),
		TotalUtilization:    lbMetrics.TotalUtilization,
		UtilizationVariance: lbMetrics.UtilizationVariance,
		BlockedTaskRatio:    ratio,
		BottleneckTeams:     lbMetrics.BottleneckTeams,
		UnderutilizedTeams:  lbMetrics.UnderutilizedTeams,
	}
}

// runOptimization moves Ready -> Optimizing -> Ready, generating
// optimizations via the Frontier Calculator and auto-applying the ones that
// clear the confidence/urgency bar.
func (m *Manager) runOptimization(ctx context.Context) {
	m.mu.Lock()
	if m.state != Ready {
		m.mu.Unlock()
		return
	}
	m.state = Optimizing
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state = Ready
		m.mu.Unlock()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	opts := m.generateOptimizationsLocked()
	m.frontierState.Optimizations = frontier.ResolveConflicts(append(m.frontierState.Optimizations, opts...))

	for _, o := range m.frontierState.Optimizations {
		if o.Applied || o.Action == wavetypes.AdjustCapacity {
			continue
		}
		if o.Confidence > 0.8 && o.Urgency >= wavetypes.High {
			if m.applyOptimizationLocked(ctx, o) {
				m.emitLocked(ctx, ports.EventOptimizationApplied, map[string]any{"optimization": o.ID, "action": o.Action})
			}
		}
	}

	if m.cfg.WorkStealing.Enabled && m.stealingEngine != nil {
		m.runWorkStealingLocked(ctx)
	}
}

// generateOptimizationsLocked produces the full set of rebalancing
// recommendations per §4.5: AdjustCapacity for bottleneck relief, SplitWave
// for boundaries at the parallelism ceiling, MergeWaves for adjacent
// underfilled boundary pairs, DelayTask for a non-critical-path task in a
// boundary at the ceiling, and ReassignTask for a bottleneck team's
// non-critical task that the Team Matcher finds a clearly better-fit team
// for.
func (m *Manager) generateOptimizationsLocked() []*wavetypes.Optimization {
	var out []*wavetypes.Optimization
	for _, team := range m.frontierState.Metrics.BottleneckTeams {
		out = append(out, &wavetypes.Optimization{
			ID:     frontier.NewOptimizationID(),
			Action: wavetypes.AdjustCapacity,
			Target: team,
			Reason: "team utilization exceeds bottleneck threshold",
			Impact: wavetypes.Impact{ResourceEfficiency: 0.2},
			Confidence: 0.6,
			Urgency:    wavetypes.Medium,
		})
	}

	boundaries := m.frontierState.Boundaries
	maxSize := m.cfg.BoundaryConstraints.MaxWaveSize

	for _, b := range boundaries {
		if maxSize > 0 && b.Parallelism >= maxSize {
			out = append(out, &wavetypes.Optimization{
				ID:         frontier.NewOptimizationID(),
				Action:     wavetypes.SplitWave,
				Target:     strconv.Itoa(b.Wave),
				Reason:     "wave parallelism meets the configured ceiling",
				Impact:     wavetypes.Impact{ThroughputChange: 0.1},
				Confidence: 0.65,
				Urgency:    wavetypes.Medium,
			})
		}
	}

	for i := 0; i+1 < len(boundaries); i++ {
		a, b := boundaries[i], boundaries[i+1]
		if a.Wave+1 != b.Wave {
			continue
		}
		if maxSize > 0 && a.Parallelism+b.Parallelism <= maxSize {
			out = append(out, &wavetypes.Optimization{
				ID:         frontier.NewOptimizationID(),
				Action:     wavetypes.MergeWaves,
				Target:     fmt.Sprintf("%d,%d", a.Wave, b.Wave),
				Reason:     "adjacent waves are both underfilled",
				Impact:     wavetypes.Impact{ResourceEfficiency: 0.15},
				Confidence: 0.55,
				Urgency:    wavetypes.Low,
			})
		}
	}

	for _, b := range boundaries {
		if maxSize <= 0 || b.Parallelism < maxSize {
			continue
		}
		for i := len(b.Tasks) - 1; i >= 0; i-- {
			node, ok := m.frontierState.Nodes[b.Tasks[i]]
			if !ok || node.OnCriticalPath {
				continue
			}
			out = append(out, &wavetypes.Optimization{
				ID:         frontier.NewOptimizationID(),
				Action:     wavetypes.DelayTask,
				Target:     b.Tasks[i],
				Reason:     "wave is at its parallelism ceiling",
				Impact:     wavetypes.Impact{ResourceEfficiency: 0.1},
				Confidence: 0.5,
				Urgency:    wavetypes.Low,
			})
			break
		}
	}

	teams := m.teamContextsLocked()
	for _, team := range m.frontierState.Metrics.BottleneckTeams {
		for _, taskID := range m.tracker.Ready() {
			node, ok := m.frontierState.Nodes[taskID]
			if !ok || node.Team != team || node.OnCriticalPath {
				continue
			}
			task := m.tasks[taskID]
			if task == nil || task.Critical {
				continue
			}
			candidates := teammatch.FindBestMatches(
				teammatch.TaskContext{Task: task, Requirements: m.taskRequirements[taskID], FromTeam: team},
				teams, team, 1, teammatch.DefaultOptions(),
			)
			if len(candidates) == 0 {
				continue
			}
			best := candidates[0]
			if best.ExpectedBenefit <= m.cfg.WorkStealing.MinimumTransferBenefit {
				continue
			}
			out = append(out, &wavetypes.Optimization{
				ID:         frontier.NewOptimizationID(),
				Action:     wavetypes.ReassignTask,
				Target:     taskID + "->" + best.TeamID,
				Reason:     "better-fit team available for bottleneck team's task",
				Impact:     wavetypes.Impact{ThroughputChange: best.ExpectedBenefit, RiskLevel: best.DependencyRisk},
				Confidence: 0.5 + 0.3*best.SkillMatch,
				Urgency:    wavetypes.Medium,
			})
			break
		}
	}

	return out
}

// ApplyOptimization applies a previously-generated optimization by id.
// Re-applying an already-applied optimization is a documented no-op
// returning false.
func (m *Manager) ApplyOptimization(ctx context.Context, optID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready {
		return false, wavetypes.NewError(wavetypes.ConfigurationError, "manager is not Ready", nil)
	}
	for _, o := range m.frontierState.Optimizations {
		if o.ID == optID {
			if o.Applied {
				return false, nil
			}
			applied := m.applyOptimizationLocked(ctx, o)
			if applied {
				m.emitLocked(ctx, ports.EventOptimizationApplied, map[string]any{"optimization": o.ID, "action": o.Action})
			}
			return applied, nil
		}
	}
	return false, wavetypes.NewError(wavetypes.UnknownEntity, fmt.Sprintf("unknown optimization %q", optID), nil)
}

// applyOptimizationLocked mutates state per the action's mechanics (§4.5)
// and marks the optimization Applied. AdjustCapacity never mutates state
// directly: it is recorded as applied but defers the real capacity change to
// the Capacity Source's owner outside this coordinator.
func (m *Manager) applyOptimizationLocked(ctx context.Context, o *wavetypes.Optimization) bool {
	m.pushSnapshotLocked()

	var err error
	switch o.Action {
	case wavetypes.PromoteTask:
		err = m.tracker.Transition(o.Target, wavetypes.Ready)
	case wavetypes.DelayTask:
		err = m.delayTaskLocked(o.Target)
	case wavetypes.ReassignTask:
		err = m.reassignTaskLocked(o.Target)
	case wavetypes.SplitWave:
		err = m.splitWaveLocked(o.Target)
	case wavetypes.MergeWaves:
		err = m.mergeWavesLocked(o.Target)
	case wavetypes.AdjustCapacity:
		// Recommendation-only; no direct state mutation.
	}
	if err != nil {
		m.rollbackLocked(ctx, err)
		return false
	}

	o.Applied = true
	m.bumpVersionLocked()
	return true
}

// delayTaskLocked moves target out of its current boundary and into the
// boundary for the next wave, creating one if none exists, per §4.5's
// "move task to next boundary" mechanic.
func (m *Manager) delayTaskLocked(taskID string) error {
	idx := -1
	for i, b := range m.frontierState.Boundaries {
		for _, t := range b.Tasks {
			if t == taskID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		return wavetypes.NewError(wavetypes.UnknownEntity, fmt.Sprintf("task %q is not in any boundary", taskID), map[string]any{"task": taskID})
	}

	source := m.frontierState.Boundaries[idx]
	source.Tasks = removeString(source.Tasks, taskID)
	source.Parallelism = len(source.Tasks)
	source.Teams = teamsForTasks(source.Tasks, m.frontierState.Nodes)

	nextWave := source.Wave + 1
	target := m.boundaryForWaveLocked(nextWave)
	target.Tasks = append(target.Tasks, taskID)
	sort.Strings(target.Tasks)
	target.Parallelism = len(target.Tasks)
	target.Teams = teamsForTasks(target.Tasks, m.frontierState.Nodes)

	if err := frontier.ValidateCapacity(target, m.frontierInputLocked()); err != nil {
		return err
	}

	m.resortBoundariesLocked()
	m.frontierState.Metrics = m.computeMetricsLocked(m.frontierState.Nodes, m.frontierState.Boundaries)
	return nil
}

// reassignTaskLocked parses a "taskID->team" target, re-checks the
// destination team's skill match and capacity per §4.4 step 2, and moves
// ownership directly (this action is manager-issued, not a work-stealing
// engine claim, so it bypasses the engine's lock/approval machinery but
// keeps the same invariant checks).
func (m *Manager) reassignTaskLocked(target string) error {
	taskID, toTeam, ok := strings.Cut(target, "->")
	if !ok {
		return wavetypes.NewError(wavetypes.ConfigurationError, fmt.Sprintf("malformed reassign target %q", target), nil)
	}

	node, ok := m.frontierState.Nodes[taskID]
	if !ok {
		return wavetypes.NewError(wavetypes.UnknownEntity, fmt.Sprintf("unknown task %q", taskID), map[string]any{"task": taskID})
	}
	fromTeam := node.Team

	skillMatch := teammatch.SkillScore(m.taskRequirements[taskID], m.teamSkills[toTeam])
	if minSkill := m.cfg.WorkStealing.SkillMatchThreshold; minSkill > 0 && skillMatch < minSkill {
		return wavetypes.NewError(wavetypes.SkillMismatch,
			fmt.Sprintf("team %q does not meet the skill floor for task %q", toTeam, taskID),
			map[string]any{"task": taskID, "team": toTeam, "skillMatch": skillMatch})
	}

	toCap := m.frontierState.Capacities[toTeam]
	if toCap != nil && toCap.MaxConcurrentTasks > 0 && toCap.CurrentLoad >= toCap.MaxConcurrentTasks {
		return wavetypes.NewError(wavetypes.CapacityOverflow,
			fmt.Sprintf("team %q is at capacity and cannot accept task %q", toTeam, taskID),
			map[string]any{"task": taskID, "team": toTeam})
	}

	m.tracker.Reassign(taskID, toTeam)
	if task := m.tasks[taskID]; task != nil {
		task.Team = toTeam
	}
	if from := m.frontierState.Capacities[fromTeam]; from != nil && from.CurrentLoad > 0 {
		from.CurrentLoad--
	}
	if toCap != nil {
		toCap.CurrentLoad++
	}
	m.frontierState.Nodes = m.tracker.Snapshot()

	for _, b := range m.frontierState.Boundaries {
		for _, t := range b.Tasks {
			if t == taskID {
				b.Teams = teamsForTasks(b.Tasks, m.frontierState.Nodes)
			}
		}
	}
	m.frontierState.Metrics = m.computeMetricsLocked(m.frontierState.Nodes, m.frontierState.Boundaries)
	return nil
}

// splitWaveLocked partitions the boundary at the target wave by the
// Balanced strategy's composite score (median split: the higher-scoring
// half stays, the rest moves to the next boundary), per §4.5's
// "median-score split" mechanic.
func (m *Manager) splitWaveLocked(target string) error {
	wave, err := strconv.Atoi(target)
	if err != nil {
		return wavetypes.NewError(wavetypes.ConfigurationError, fmt.Sprintf("malformed split target %q", target), nil)
	}
	boundary := m.findBoundaryLocked(wave)
	if boundary == nil {
		return wavetypes.NewError(wavetypes.UnknownEntity, fmt.Sprintf("no boundary at wave %d", wave), nil)
	}
	if len(boundary.Tasks) < 2 {
		return wavetypes.NewError(wavetypes.OptimizationConflict, "boundary too small to split", map[string]any{"wave": wave})
	}

	in := m.frontierInputLocked()
	tasks := append([]string(nil), boundary.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool {
		return frontier.CompositeScore(in, tasks[i]) > frontier.CompositeScore(in, tasks[j])
	})
	mid := len(tasks) / 2
	keep, moved := tasks[:mid], tasks[mid:]

	boundary.Tasks = append([]string(nil), keep...)
	sort.Strings(boundary.Tasks)
	boundary.Parallelism = len(boundary.Tasks)
	boundary.Teams = teamsForTasks(boundary.Tasks, m.frontierState.Nodes)

	next := m.boundaryForWaveLocked(wave + 1)
	next.Tasks = append(next.Tasks, moved...)
	sort.Strings(next.Tasks)
	next.Parallelism = len(next.Tasks)
	next.Teams = teamsForTasks(next.Tasks, m.frontierState.Nodes)

	if err := frontier.ValidateCapacity(next, in); err != nil {
		return err
	}

	m.resortBoundariesLocked()
	m.frontierState.Metrics = m.computeMetricsLocked(m.frontierState.Nodes, m.frontierState.Boundaries)
	return nil
}

// mergeWavesLocked parses a "waveA,waveB" target and unions the two
// boundaries when the combined task count still fits maxWaveSize, per
// §4.5's "adjacent-boundary merge" mechanic.
func (m *Manager) mergeWavesLocked(target string) error {
	waveAStr, waveBStr, ok := strings.Cut(target, ",")
	if !ok {
		return wavetypes.NewError(wavetypes.ConfigurationError, fmt.Sprintf("malformed merge target %q", target), nil)
	}
	waveA, errA := strconv.Atoi(strings.TrimSpace(waveAStr))
	waveB, errB := strconv.Atoi(strings.TrimSpace(waveBStr))
	if errA != nil || errB != nil {
		return wavetypes.NewError(wavetypes.ConfigurationError, fmt.Sprintf("malformed merge target %q", target), nil)
	}
	if waveB < waveA {
		waveA, waveB = waveB, waveA
	}
	if waveB != waveA+1 {
		return wavetypes.NewError(wavetypes.OptimizationConflict, fmt.Sprintf("waves %d and %d are not adjacent", waveA, waveB), map[string]any{"waveA": waveA, "waveB": waveB})
	}

	a := m.findBoundaryLocked(waveA)
	b := m.findBoundaryLocked(waveB)
	if a == nil || b == nil {
		return wavetypes.NewError(wavetypes.UnknownEntity, fmt.Sprintf("unknown waves %d,%d", waveA, waveB), nil)
	}

	if maxSize := m.cfg.BoundaryConstraints.MaxWaveSize; maxSize > 0 && len(a.Tasks)+len(b.Tasks) > maxSize {
		return wavetypes.NewError(wavetypes.OptimizationConflict, "merged wave would exceed maxWaveSize", map[string]any{"waveA": waveA, "waveB": waveB})
	}

	merged := append(append([]string(nil), a.Tasks...), b.Tasks...)
	sort.Strings(merged)
	a.Tasks = merged
	a.Parallelism = len(a.Tasks)
	a.Teams = teamsForTasks(a.Tasks, m.frontierState.Nodes)
	if b.CriticalPathLength > a.CriticalPathLength {
		a.CriticalPathLength = b.CriticalPathLength
	}
	if b.EstimatedEnd.After(a.EstimatedEnd) {
		a.EstimatedEnd = b.EstimatedEnd
	}

	if err := frontier.ValidateCapacity(a, m.frontierInputLocked()); err != nil {
		return err
	}

	var kept []*wavetypes.WaveBoundary
	for _, bound := range m.frontierState.Boundaries {
		if bound.Wave == waveB {
			continue
		}
		kept = append(kept, bound)
	}
	m.frontierState.Boundaries = kept
	m.resortBoundariesLocked()
	m.frontierState.Metrics = m.computeMetricsLocked(m.frontierState.Nodes, m.frontierState.Boundaries)
	return nil
}

// findBoundaryLocked returns the boundary at wave, or nil if none exists.
func (m *Manager) findBoundaryLocked(wave int) *wavetypes.WaveBoundary {
	for _, b := range m.frontierState.Boundaries {
		if b.Wave == wave {
			return b
		}
	}
	return nil
}

// boundaryForWaveLocked returns the existing boundary at wave, or creates
// and appends an empty one.
func (m *Manager) boundaryForWaveLocked(wave int) *wavetypes.WaveBoundary {
	if b := m.findBoundaryLocked(wave); b != nil {
		return b
	}
	b := &wavetypes.WaveBoundary{Wave: wave, Start: time.Now()}
	m.frontierState.Boundaries = append(m.frontierState.Boundaries, b)
	return b
}

// resortBoundariesLocked restores the Boundaries slice's ascending-wave
// ordering after a mechanic mutates it in place.
func (m *Manager) resortBoundariesLocked() {
	sort.SliceStable(m.frontierState.Boundaries, func(i, j int) bool {
		return m.frontierState.Boundaries[i].Wave < m.frontierState.Boundaries[j].Wave
	})
}

// removeString returns a new slice with every occurrence of target removed.
func removeString(ss []string, target string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// teamsForTasks returns the sorted, de-duplicated set of teams owning
// taskIDs according to nodes.
func teamsForTasks(taskIDs []string, nodes map[string]*wavetypes.DependencyNode) []string {
	set := make(map[string]bool)
	for _, id := range taskIDs {
		if n, ok := nodes[id]; ok {
			set[n.Team] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// teamContextsLocked builds the Team Matcher's view of every known team,
// sorted by id for deterministic ranking among equal-score candidates.
func (m *Manager) teamContextsLocked() []teammatch.TeamContext {
	out := make([]teammatch.TeamContext, 0, len(m.frontierState.Capacities))
	for id, cap := range m.frontierState.Capacities {
		out = append(out, teammatch.TeamContext{TeamID: id, Skills: m.teamSkills[id], Capacity: cap})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out
}

// teamHasCriticalTasksLocked reports whether team currently owns an
// unfinished task flagged Critical, used by the Load Balancer's emergency
// threshold (§4.3: critical-task teams trip emergency at a lower
// utilization).
func (m *Manager) teamHasCriticalTasksLocked(team string) bool {
	for id, task := range m.tasks {
		if !task.Critical || task.Team != team {
			continue
		}
		if n, ok := m.frontierState.Nodes[id]; ok && n.State != wavetypes.Completed {
			return true
		}
	}
	return false
}

// pendingComplexityLocked sums each team's not-yet-completed task
// complexity, feeding ProactiveRecommendations' predicted-utilization
// formula.
func (m *Manager) pendingComplexityLocked() map[string]float64 {
	out := make(map[string]float64)
	for _, n := range m.frontierState.Nodes {
		if n.State != wavetypes.Waiting && n.State != wavetypes.Ready {
			continue
		}
		out[n.Team] += loadbalance.TaskComplexity(n.EstimatedEffort, len(n.DependsOn), n.OnCriticalPath)
	}
	return out
}

// buildRankedCandidatesLocked ranks every Ready/InProgress task against
// every other team via the Team Matcher, using the emergency-tuned options
// (lower skill floor, halved cost, 1.5x benefit) when emergency is true.
func (m *Manager) buildRankedCandidatesLocked(emergency bool) []loadbalance.RankedCandidate {
	teams := m.teamContextsLocked()
	opts := teammatch.DefaultOptions()
	if emergency {
		opts = teammatch.Options{MinSkillMatch: 0.3, CostMultiplier: 0.5, BenefitMultiplier: 1.5}
	}

	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []loadbalance.RankedCandidate
	for _, id := range ids {
		node, ok := m.frontierState.Nodes[id]
		if !ok || (node.State != wavetypes.Ready && node.State != wavetypes.InProgress) {
			continue
		}
		task := m.tasks[id]
		candidates := teammatch.FindBestMatches(
			teammatch.TaskContext{Task: task, Requirements: m.taskRequirements[id], FromTeam: node.Team},
			teams, node.Team, m.cfg.WorkStealing.MaxTransfersPerWave, opts,
		)
		if len(candidates) == 0 {
			continue
		}
		out = append(out, loadbalance.RankedCandidate{
			Task:       loadbalance.TaskWithContext{Task: task, FromTeam: node.Team},
			Candidates: candidates,
		})
	}
	return out
}

// emergencyRecommendationsLocked proposes moving a task off of every team
// whose utilization has crossed the emergency threshold, regardless of
// bottleneck/benefit floors — §4.3's emergency override.
func (m *Manager) emergencyRecommendationsLocked(ranked []loadbalance.RankedCandidate) []loadbalance.Recommendation {
	var recs []loadbalance.Recommendation
	th := loadbalance.DefaultThresholds()
	for _, rc := range ranked {
		cap := m.frontierState.Capacities[rc.Task.FromTeam]
		if cap == nil || !loadbalance.IsEmergency(cap.UtilizedFraction(), m.teamHasCriticalTasksLocked(rc.Task.FromTeam), th) {
			continue
		}
		if len(rc.Candidates) == 0 {
			continue
		}
		best := rc.Candidates[0]
		recs = append(recs, loadbalance.Recommendation{
			TaskID:          rc.Task.Task.ID,
			FromTeam:        rc.Task.FromTeam,
			ToTeam:          best.TeamID,
			ExpectedBenefit: best.ExpectedBenefit,
			Cost:            best.TransferCost,
			Emergency:       true,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ExpectedBenefit > recs[j].ExpectedBenefit })
	if max := m.cfg.WorkStealing.MaxTransfersPerWave; max > 0 && len(recs) > max {
		recs = recs[:max]
	}
	return recs
}

// buildTransferRequestsLocked converts Load Balancer recommendations into
// stealing.TransferRequests, carrying forward each candidate's skill match
// and destination capacity/load so Engine.revalidate can re-check them at
// claim time per §4.4 step 2.
func (m *Manager) buildTransferRequestsLocked(recs []loadbalance.Recommendation, ranked []loadbalance.RankedCandidate, emergency bool) []stealing.TransferRequest {
	candidateFor := make(map[string]teammatch.Candidate, len(recs))
	for _, rc := range ranked {
		for _, c := range rc.Candidates {
			candidateFor[rc.Task.Task.ID+"->"+c.TeamID] = c
		}
	}

	minSkill := m.cfg.WorkStealing.SkillMatchThreshold
	if emergency {
		minSkill = 0.3
	}

	out := make([]stealing.TransferRequest, 0, len(recs))
	for _, rec := range recs {
		task := m.tasks[rec.TaskID]
		if task == nil {
			continue
		}
		cand := candidateFor[rec.TaskID+"->"+rec.ToTeam]
		req := stealing.TransferRequest{
			TaskID:                rec.TaskID,
			FromTeam:              rec.FromTeam,
			ToTeam:                rec.ToTeam,
			Critical:              task.Critical,
			DependencyCount:       len(task.DependsOn),
			Candidate:             cand,
			Emergency:             emergency,
			OverallThroughputGain: rec.ExpectedBenefit - rec.Cost,
			MinSkillMatch:         minSkill,
		}
		if toCap := m.frontierState.Capacities[rec.ToTeam]; toCap != nil {
			req.ToTeamCapacity = toCap.MaxConcurrentTasks
			req.ToTeamLoad = toCap.CurrentLoad
		}
		out = append(out, req)
	}
	return out
}

// reconcileTransferLocked folds one applied TransferOutcome back into the
// Dependency Tracker and the owned FrontierState capacities.
func (m *Manager) reconcileTransferLocked(o stealing.TransferOutcome) {
	if !o.Success {
		return
	}
	m.tracker.Reassign(o.TaskID, o.ToTeam)
	if task := m.tasks[o.TaskID]; task != nil {
		task.Team = o.ToTeam
		task.UpdatedAt = o.AppliedAt
	}
	if from := m.frontierState.Capacities[o.FromTeam]; from != nil && from.CurrentLoad > 0 {
		from.CurrentLoad--
	}
	if to := m.frontierState.Capacities[o.ToTeam]; to != nil {
		to.CurrentLoad++
	}
}

// runWorkStealingLocked is the Work-Stealing Engine's entry point from the
// optimization loop (§2, §4.6): it detects an emergency, builds ranked
// candidates via the Team Matcher, selects recommendations via the Load
// Balancer's reactive/proactive/emergency tiers, submits them to
// Engine.Coordinate, and reconciles every applied transfer back into owned
// state.
func (m *Manager) runWorkStealingLocked(ctx context.Context) {
	ws := m.cfg.WorkStealing
	th := loadbalance.DefaultThresholds()

	emergencyActive := false
	for team, cap := range m.frontierState.Capacities {
		if loadbalance.IsEmergency(cap.UtilizedFraction(), m.teamHasCriticalTasksLocked(team), th) {
			emergencyActive = true
			break
		}
	}
	emergency := emergencyActive && ws.EmergencyStealingEnabled

	ranked := m.buildRankedCandidatesLocked(emergency)

	var recs []loadbalance.Recommendation
	if emergency {
		recs = m.emergencyRecommendationsLocked(ranked)
	} else {
		recs = loadbalance.ReactiveRecommendations(ranked, m.frontierState.Metrics.BottleneckTeams, ws.MinimumTransferBenefit, ws.MaxTransfersPerWave)
		if ws.ProactiveStealingEnabled {
			recs = append(recs, loadbalance.ProactiveRecommendations(m.frontierState.Capacities, m.pendingComplexityLocked(), ranked, th, ws.MaxTransfersPerWave)...)
		}
	}
	if len(recs) == 0 {
		return
	}

	requests := m.buildTransferRequestsLocked(recs, ranked, emergency)
	if len(requests) == 0 {
		return
	}

	m.pushSnapshotLocked()
	result, err := m.stealingEngine.Coordinate(ctx, requests)
	if err != nil {
		m.popSnapshotLocked()
		m.logger.Warn("work-stealing coordination pass failed", "error", err)
		return
	}
	if len(result.Applied) == 0 {
		m.popSnapshotLocked()
		return
	}

	for _, outcome := range result.Applied {
		m.reconcileTransferLocked(outcome)
	}
	m.frontierState.Nodes = m.tracker.Snapshot()
	if err := m.recalculateBoundariesLocked(ctx); err != nil {
		m.rollbackLocked(ctx, err)
		return
	}
	m.bumpVersionLocked()
	m.emitLocked(ctx, ports.EventOptimizationApplied, map[string]any{"transfers": len(result.Applied), "emergency": emergency})
}

// GetState returns a deep copy of the manager's FrontierState.
func (m *Manager) GetState(ctx context.Context) *wavetypes.FrontierState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frontierState.Clone()
}

// CurrentState reports the manager's own lifecycle state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Shutdown cancels the periodic timer, awaits any in-flight optimization,
// saves final state and emits frontier_shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == ShuttingDown || m.state == Uninitialized {
		m.mu.Unlock()
		return nil
	}
	m.state = ShuttingDown
	cancel := m.cancelTick
	done := m.tickDone
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistence != nil {
		if err := m.persistence.SaveState(ctx, m.frontierState); err != nil {
			m.logger.Error("failed to save final state on shutdown", "error", err, "planId", m.planID)
		}
	}
	m.emitLocked(ctx, ports.EventFrontierShutdown, map[string]any{"planId": m.planID})
	return nil
}

// pushSnapshotLocked pushes a deep copy of FrontierState onto the bounded
// rollback stack, evicting the oldest entry once depth exceeds
// maxRollbackDepth.
func (m *Manager) pushSnapshotLocked() {
	m.rollbackStack = append(m.rollbackStack, m.frontierState.Clone())
	if len(m.rollbackStack) > maxRollbackDepth {
		m.rollbackStack = m.rollbackStack[len(m.rollbackStack)-maxRollbackDepth:]
	}
}

// popSnapshotLocked discards the most recent snapshot without restoring it,
// used when an operation turns out to be a documented no-op.
func (m *Manager) popSnapshotLocked() {
	if len(m.rollbackStack) == 0 {
		return
	}
	m.rollbackStack = m.rollbackStack[:len(m.rollbackStack)-1]
}

// rollbackLocked pops the most recent snapshot, restores it, and emits
// rollback_executed with the restored version. If rollback is disabled by
// configuration, it only pops without restoring.
func (m *Manager) rollbackLocked(ctx context.Context, cause error) {
	if len(m.rollbackStack) == 0 {
		return
	}
	snapshot := m.rollbackStack[len(m.rollbackStack)-1]
	m.rollbackStack = m.rollbackStack[:len(m.rollbackStack)-1]

	if !m.cfg.RollbackOnFailure {
		return
	}

	m.frontierState = snapshot
	if m.tracker != nil {
		for id, n := range snapshot.Nodes {
			m.tracker.RestoreState(id, n.State)
		}
	}
	m.logger.Warn("rolled back after failed mutation", "error", cause, "version", snapshot.CoordinationVersion)
	m.emitLocked(ctx, ports.EventRollbackExecuted, map[string]any{"version": snapshot.CoordinationVersion, "cause": cause.Error()})
}

// bumpVersionLocked strictly increases CoordinationVersion and stamps
// LastUpdate.
func (m *Manager) bumpVersionLocked() {
	m.frontierState.CoordinationVersion++
	m.frontierState.LastUpdate = time.Now()
}

// emitLocked appends an event to the bounded in-memory history and, if a
// Notification port is wired, publishes it. Caller must hold m.mu.
func (m *Manager) emitLocked(ctx context.Context, event Event, data map[string]any) {
	m.events = append(m.events, EventRecord{Event: event, Data: data, At: time.Now()})
	if len(m.events) > maxEventHistory {
		m.events = m.events[len(m.events)-maxEventHistory:]
	}
	if m.notification != nil {
		if err := m.notification.Notify(ctx, event, data); err != nil {
			m.logger.Warn("notification delivery failed", "event", event, "error", err)
		}
	}
}

// emit delegates to emitLocked without taking the lock itself; its caller
// (Initialize, before Ready) already holds it.
func (m *Manager) emit(ctx context.Context, event Event, data map[string]any) {
	m.emitLocked(ctx, event, data)
}

// EventHistory returns a copy of the manager's in-memory event history.
func (m *Manager) EventHistory() []EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventRecord, len(m.events))
	copy(out, m.events)
	return out
}
