// Package stealing implements the Work-Stealing Engine: per-task locking,
// the single-transfer state machine, batch ordering across a coordination
// pass, and the failure-rate abort gate.
//
// Per-task exclusive locking is adapted from cancellation.go's
// CancellationManager, which keys a registry of in-flight work by execution
// id under one mutex; here the same shape keys in-flight transfers by task
// id. The persistence call is made once per transfer, without retry.
package stealing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/wavecoord/internal/ports"
	"github.com/swarmguard/wavecoord/internal/teammatch"
	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// TransferOutcome records one applied or rejected transfer attempt.
type TransferOutcome struct {
	TaskID    string
	FromTeam  string
	ToTeam    string
	Emergency bool
	Success   bool
	Err       error
	AppliedAt time.Time
}

// CoordinationResult is coordinate(wave)'s return value.
type CoordinationResult struct {
	Applied []TransferOutcome
	Failed  []TransferOutcome
	Aborted bool
}

// taskLock tracks one in-flight transfer's holder.
type taskLock struct {
	lockID string
}

// transferRecord is one entry in a task's bounded transfer history.
type transferRecord struct {
	ToTeam string
	At     time.Time
}

// Engine is the Work-Stealing Engine. One Engine instance exists per
// coordinator; it is safe for concurrent use.
type Engine struct {
	assignments ports.AssignmentSink
	approval    ports.Approval
	lock        ports.CoordinationLock

	mu            sync.Mutex
	locks         map[string]taskLock // taskID -> holder
	history       map[string][]transferRecord
	isRebalancing bool
}

// New constructs an Engine backed by the given ports.
func New(assignments ports.AssignmentSink, approval ports.Approval, lock ports.CoordinationLock) *Engine {
	return &Engine{
		assignments: assignments,
		approval:    approval,
		lock:        lock,
		locks:       make(map[string]taskLock),
		history:     make(map[string][]transferRecord),
	}
}

// TransferRequest is one proposed transfer to attempt within a coordination
// pass.
type TransferRequest struct {
	TaskID            string
	FromTeam          string
	ToTeam            string
	Critical          bool
	DependencyCount   int
	Candidate         teammatch.Candidate
	Emergency         bool
	OverallThroughputGain float64

	// MinSkillMatch, when > 0, re-validates req.Candidate.SkillMatch against
	// the floor the caller matched this candidate against, catching a team's
	// skill profile having drifted between matching and transfer. Zero means
	// the caller did not supply a floor and the check is skipped.
	MinSkillMatch float64
	// ToTeamCapacity and ToTeamLoad, when ToTeamCapacity > 0, re-validate
	// that ToTeam still has room before committing the transfer. Zero
	// ToTeamCapacity means the caller did not supply capacity data and the
	// check is skipped.
	ToTeamCapacity int
	ToTeamLoad     int
}

// Coordinate runs one rebalancing pass over requests: emergency requests
// first, then descending overallThroughputGain within a tier. It aborts
// (Aborted=true) if the running failure rate exceeds 0.5 over at least 3
// attempts. At most one pass may be in flight at a time.
func (e *Engine) Coordinate(ctx context.Context, requests []TransferRequest) (CoordinationResult, error) {
	e.mu.Lock()
	if e.isRebalancing {
		e.mu.Unlock()
		return CoordinationResult{}, wavetypes.NewError(wavetypes.CoordinationFailure,
			"a coordination pass is already in flight", nil)
	}
	e.isRebalancing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.isRebalancing = false
		e.mu.Unlock()
	}()

	ordered := make([]TransferRequest, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Emergency != ordered[j].Emergency {
			return ordered[i].Emergency
		}
		return ordered[i].OverallThroughputGain > ordered[j].OverallThroughputGain
	})

	var result CoordinationResult
	attempts, failures := 0, 0

	for _, req := range ordered {
		outcome := e.applyTransfer(ctx, req)
		attempts++
		if outcome.Success {
			result.Applied = append(result.Applied, outcome)
		} else {
			failures++
			result.Failed = append(result.Failed, outcome)
		}

		if attempts >= 3 && float64(failures)/float64(attempts) > 0.5 {
			result.Aborted = true
			break
		}
	}

	return result, nil
}

// Claim performs a single ad-hoc task claim onto team, bypassing batch
// ordering; it still goes through the full single-transfer state machine.
func (e *Engine) Claim(ctx context.Context, req TransferRequest) TransferOutcome {
	return e.applyTransfer(ctx, req)
}

// Release relinquishes ownership of task from team via the assignment sink's
// rollback path, used when a team voluntarily gives up a claimed task.
func (e *Engine) Release(ctx context.Context, taskID, team string) error {
	return e.assignments.RollbackTransfer(ctx, taskID, team)
}

// applyTransfer runs the single-transfer state machine described in
// SPEC_FULL.md §4.4: acquire lock, revalidate, approve, check invariants,
// apply, record history, release lock on every exit path.
func (e *Engine) applyTransfer(ctx context.Context, req TransferRequest) TransferOutcome {
	outcome := TransferOutcome{TaskID: req.TaskID, FromTeam: req.FromTeam, ToTeam: req.ToTeam, Emergency: req.Emergency}

	lockID, err := e.acquireTaskLock(ctx, req.TaskID)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	defer e.releaseTaskLock(ctx, req.TaskID, lockID)

	if err := e.revalidate(req); err != nil {
		outcome.Err = err
		return outcome
	}

	if e.approvalRequired(req) {
		approved, err := e.approval.NotifyTeamOfTransfer(ctx, ports.TransferRequest{
			TaskID:          req.TaskID,
			FromTeam:        req.FromTeam,
			ToTeam:          req.ToTeam,
			ExpectedBenefit: req.Candidate.ExpectedBenefit,
			Cost:            req.Candidate.TransferCost,
			DependencyRisk:  req.Candidate.DependencyRisk,
		})
		if err != nil {
			outcome.Err = wavetypes.NewError(wavetypes.TransientFailure, "approval request failed", nil)
			return outcome
		}
		if !approved {
			outcome.Err = wavetypes.NewError(wavetypes.TransferRejected, "transfer not approved", nil)
			return outcome
		}
	}

	if err := e.checkCriticalTaskHeuristic(req); err != nil {
		outcome.Err = err
		return outcome
	}

	if err := e.assignments.UpdateTaskAssignment(ctx, req.TaskID, req.ToTeam); err != nil {
		e.assignments.RollbackTransfer(ctx, req.TaskID, req.FromTeam)
		outcome.Err = wavetypes.NewError(wavetypes.TransientFailure, "assignment update failed", map[string]any{"task": req.TaskID})
		return outcome
	}

	e.recordHistory(req.TaskID, req.ToTeam)
	outcome.Success = true
	outcome.AppliedAt = time.Now()
	return outcome
}

func (e *Engine) acquireTaskLock(ctx context.Context, taskID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.locks[taskID]; held {
		return "", wavetypes.NewError(wavetypes.ConcurrentTransfer,
			fmt.Sprintf("task %q is already being transferred", taskID), map[string]any{"task": taskID})
	}
	if e.lock != nil {
		lockID, err := e.lock.Acquire(ctx, taskID)
		if err != nil {
			return "", wavetypes.NewError(wavetypes.ConcurrentTransfer, "lock acquisition failed", map[string]any{"task": taskID})
		}
		e.locks[taskID] = taskLock{lockID: lockID}
		return lockID, nil
	}
	lockID := uuid.NewString()
	e.locks[taskID] = taskLock{lockID: lockID}
	return lockID, nil
}

func (e *Engine) releaseTaskLock(ctx context.Context, taskID, lockID string) {
	e.mu.Lock()
	delete(e.locks, taskID)
	e.mu.Unlock()
	if e.lock != nil {
		e.lock.Release(ctx, lockID)
	}
}

// revalidate re-checks the task has fewer than 3 transfers in the last hour,
// then re-checks skill match and destination capacity per §4.4 step 2 when
// the caller supplied that data on the request (a zero MinSkillMatch or
// ToTeamCapacity means the caller's CapacitySource/TeamMatcher lookup didn't
// populate it, and the check is skipped rather than treated as a failure).
func (e *Engine) revalidate(req TransferRequest) error {
	e.mu.Lock()
	cutoff := time.Now().Add(-time.Hour)
	count := 0
	for _, rec := range e.history[req.TaskID] {
		if rec.At.After(cutoff) {
			count++
		}
	}
	e.mu.Unlock()
	if count >= 3 {
		return wavetypes.NewError(wavetypes.TransferRejected,
			fmt.Sprintf("task %q has reached the hourly transfer limit", req.TaskID), map[string]any{"task": req.TaskID})
	}

	if req.MinSkillMatch > 0 && req.Candidate.SkillMatch < req.MinSkillMatch {
		return wavetypes.NewError(wavetypes.SkillMismatch,
			fmt.Sprintf("team %q no longer meets the skill floor for task %q", req.ToTeam, req.TaskID),
			map[string]any{"task": req.TaskID, "team": req.ToTeam, "skillMatch": req.Candidate.SkillMatch, "required": req.MinSkillMatch})
	}

	if req.ToTeamCapacity > 0 && req.ToTeamLoad >= req.ToTeamCapacity {
		return wavetypes.NewError(wavetypes.CapacityOverflow,
			fmt.Sprintf("team %q is at capacity and cannot accept task %q", req.ToTeam, req.TaskID),
			map[string]any{"task": req.TaskID, "team": req.ToTeam, "load": req.ToTeamLoad, "capacity": req.ToTeamCapacity})
	}
	return nil
}

// approvalRequired implements §4.4's approval policy: Emergency disables it;
// otherwise required when dependency risk > 0.7 or cost > 0.5.
func (e *Engine) approvalRequired(req TransferRequest) bool {
	if req.Emergency {
		return false
	}
	return req.Candidate.DependencyRisk > 0.7 || req.Candidate.TransferCost > 0.5
}

// checkCriticalTaskHeuristic enforces "critical tasks stay on dependency
// team": a critical task may only move within a non-emergency pass if the
// destination already appears as a declared dependency owner is out of this
// engine's knowledge, so the conservative rule implemented here is: critical
// tasks never transfer outside of an Emergency pass.
func (e *Engine) checkCriticalTaskHeuristic(req TransferRequest) error {
	if req.Critical && !req.Emergency {
		return wavetypes.NewError(wavetypes.DependencyViolation,
			fmt.Sprintf("critical task %q cannot transfer outside an emergency pass", req.TaskID),
			map[string]any{"task": req.TaskID})
	}
	return nil
}

func (e *Engine) recordHistory(taskID, toTeam string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.history[taskID], transferRecord{ToTeam: toTeam, At: time.Now()})
	if len(h) > 10 {
		h = h[len(h)-10:]
	}
	e.history[taskID] = h
}

// HistoryLength returns the number of recorded transfers for taskID, used by
// tests and observability.
func (e *Engine) HistoryLength(taskID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[taskID])
}
