// Package ports collapses every external collaborator the coordinator needs
// into small, composable interfaces, following the spec's own design note:
// avoid interface sprawl and inheritance, prefer composition. The teacher's
// plugin registry (plugins.go's PluginExecutor) is the idiomatic precedent
// for a one-method-per-concern interface backed by a concrete adapter
// selected at wiring time.
package ports

import (
	"context"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// TaskSource enumerates the tasks a plan is built from. Issue-tracker
// integration and manifest loading are out of scope; any adapter
// implementing this interface may sit in front of either.
type TaskSource interface {
	ListTasks(ctx context.Context) ([]*wavetypes.Task, error)
}

// AssignmentSink applies and rolls back task-to-team reassignments.
type AssignmentSink interface {
	UpdateTaskAssignment(ctx context.Context, taskID, newTeam string) error
	RollbackTransfer(ctx context.Context, taskID, originalTeam string) error
}

// CapacitySource reports team capacity, skills and roster.
type CapacitySource interface {
	GetTeamCapacity(ctx context.Context, teamID string) (*wavetypes.TeamCapacity, error)
	GetTeamSkills(ctx context.Context, teamID string) (map[string]wavetypes.TeamSkill, error)
	GetAllTeams(ctx context.Context) ([]string, error)
}

// CoordinationLock guards per-task critical sections against concurrent
// transfers.
type CoordinationLock interface {
	Acquire(ctx context.Context, taskID string) (lockID string, err error)
	Release(ctx context.Context, lockID string) error
}

// TransferRequest describes a proposed work-stealing transfer submitted for
// approval.
type TransferRequest struct {
	TaskID          string
	FromTeam        string
	ToTeam          string
	Reason          string
	ExpectedBenefit float64
	Cost            float64
	DependencyRisk  float64
}

// Approval gates a transfer behind human (or automated policy) sign-off.
type Approval interface {
	NotifyTeamOfTransfer(ctx context.Context, req TransferRequest) (approved bool, err error)
}

// Persistence saves and restores FrontierState across process restarts.
// loadState returning (nil, nil) means no compatible prior state exists.
type Persistence interface {
	SaveState(ctx context.Context, state *wavetypes.FrontierState) error
	LoadState(ctx context.Context, planID string) (*wavetypes.FrontierState, error)
}

// Event names every observable transition the Rolling Frontier Manager may
// emit.
type Event string

const (
	EventFrontierInitialized Event = "frontier_initialized"
	EventBoundaryAdjusted    Event = "boundary_adjusted"
	EventTaskPromoted        Event = "task_promoted"
	EventOptimizationApplied Event = "optimization_applied"
	EventRollbackExecuted    Event = "rollback_executed"
	EventFrontierShutdown    Event = "frontier_shutdown"
)

// Notification publishes typed events to external subscribers.
type Notification interface {
	Notify(ctx context.Context, event Event, data map[string]any) error
}

// CheckRunSummary is the metrics-only CI/PR signal surface: the latest
// check-run conclusion and how many checks ran for a task.
type CheckRunSummary struct {
	TaskID           string
	LatestConclusion string
	CheckCount       int
}

// CISignals reports CI/PR check-run summaries, consumed only for analytics.
type CISignals interface {
	GetCheckRunSummary(ctx context.Context, taskID string) (CheckRunSummary, error)
}
