// Package depgraph is the Dependency Tracker: it owns the task DAG, the
// per-task state machine, critical-path and blocking-factor analysis, and
// readiness propagation.
//
// The adjacency model follows aristath-orchestrator's scheduler.DAG: nodes
// are addressed only by string id, forward and reverse edges live in side
// tables (dependedBy/dependsOn), and every read returns a cloned node so
// callers never alias tracker-owned memory. Cycle detection and the
// critical-path pass are adapted from dag_engine.go's buildDAG/executeDAG,
// which already walk the graph in Kahn's topological order for scheduling;
// here the same order is reused to compute longest-path critical length.
package depgraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// Tracker owns a single plan's dependency DAG.
type Tracker struct {
	mu    sync.RWMutex
	nodes map[string]*wavetypes.DependencyNode

	blockingCache map[string]int
}

// New builds a Tracker from a task list. It fails with a DependencyViolation
// CoordinatorError if any dependency target is missing or if the graph
// contains a cycle (the error context then carries the full cycle path).
func New(tasks []*wavetypes.Task) (*Tracker, error) {
	t := &Tracker{nodes: make(map[string]*wavetypes.DependencyNode, len(tasks))}

	for _, task := range tasks {
		t.nodes[task.ID] = &wavetypes.DependencyNode{
			TaskID:          task.ID,
			DependsOn:       append([]string(nil), task.DependsOn...),
			State:           wavetypes.Waiting,
			Wave:            task.Wave,
			Team:            task.Team,
			EstimatedEffort: task.EstimatedEffort,
		}
	}

	for id, n := range t.nodes {
		for _, dep := range n.DependsOn {
			target, ok := t.nodes[dep]
			if !ok {
				return nil, wavetypes.NewError(wavetypes.DependencyViolation,
					fmt.Sprintf("task %q depends on non-existent task %q", id, dep),
					map[string]any{"task": id, "dependsOn": dep})
			}
			target.DependedBy = append(target.DependedBy, id)
		}
	}

	if cycle := t.findCycle(); cycle != nil {
		return nil, wavetypes.NewError(wavetypes.DependencyViolation,
			"dependency graph contains a cycle",
			map[string]any{"cycle": cycle})
	}

	// Tasks with no deps start Ready; everything else is Waiting until
	// readiness propagation promotes it.
	for _, n := range t.nodes {
		if len(n.DependsOn) == 0 {
			n.State = wavetypes.Ready
		}
	}

	t.recomputeBlockingFactors()
	t.recomputeCriticalPath()

	return t, nil
}

// color is the DFS cycle-detection marker: unvisited (white), on the current
// recursion stack (gray), or fully explored (black).
type color int

const (
	white color = iota
	gray
	black
)

// findCycle runs a DFS with white/gray/black coloring and returns the full
// cycle path (e.g. [A,B,C,A]) if one exists, or nil otherwise.
func (t *Tracker) findCycle() []string {
	colors := make(map[string]color, len(t.nodes))
	var path []string
	var cycle []string

	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		path = append(path, id)

		for _, dep := range t.nodes[id].DependsOn {
			switch colors[dep] {
			case gray:
				// Found the back edge; trim path to the cycle start.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), path[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return false
	}

	for _, id := range ids {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder returns a Kahn's-algorithm topological ordering of node ids,
// breaking ties among simultaneously-available nodes by lexicographic id so
// downstream critical-path computation is deterministic.
func (t *Tracker) topoOrder() []string {
	indegree := make(map[string]int, len(t.nodes))
	for id, n := range t.nodes {
		indegree[id] = len(n.DependsOn)
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(t.nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, child := range t.nodes[id].DependedBy {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	return order
}

// recomputeCriticalPath assigns OnCriticalPath via longest-path-by-effort
// over the Kahn's topological order, tie-broken lexicographically by id.
func (t *Tracker) recomputeCriticalPath() {
	order := t.topoOrder()

	longest := make(map[string]float64, len(order))
	pred := make(map[string]string, len(order))

	for _, id := range order {
		n := t.nodes[id]
		best := 0.0
		bestPred := ""
		for _, dep := range n.DependsOn {
			candidate := longest[dep] + n.EstimatedEffort
			if candidate > best || (candidate == best && (bestPred == "" || dep < bestPred)) {
				best = candidate
				bestPred = dep
			}
		}
		if len(n.DependsOn) == 0 {
			best = n.EstimatedEffort
		}
		longest[id] = best
		pred[id] = bestPred
	}

	// Reset flags, then walk back from the node with maximum longest-path
	// value (lexicographically smallest id on ties) to flag the path.
	for _, n := range t.nodes {
		n.OnCriticalPath = false
	}
	if len(order) == 0 {
		return
	}

	endID := order[0]
	for _, id := range order {
		if longest[id] > longest[endID] || (longest[id] == longest[endID] && id < endID) {
			endID = id
		}
	}
	for id := endID; id != ""; id = pred[id] {
		t.nodes[id].OnCriticalPath = true
	}
}

// recomputeBlockingFactors computes, for every node, the size of its
// transitive forward closure. Each root's walk shares one visited set, so a
// node reachable along several paths (diamond shapes) is counted once.
func (t *Tracker) recomputeBlockingFactors() {
	t.blockingCache = make(map[string]int, len(t.nodes))

	var closure func(id string, seen map[string]bool)
	closure = func(id string, seen map[string]bool) {
		for _, child := range t.nodes[id].DependedBy {
			if !seen[child] {
				seen[child] = true
				closure(child, seen)
			}
		}
	}

	for id := range t.nodes {
		seen := map[string]bool{}
		closure(id, seen)
		// Only reachable through a cycle, which validation rules out.
		delete(seen, id)
		t.blockingCache[id] = len(seen)
		t.nodes[id].BlockingFactor = len(seen)
	}
}

// Transition moves taskID from its current state to next, failing with
// DependencyViolation if the move is illegal or the id is unknown.
func (t *Tracker) Transition(taskID string, next wavetypes.TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[taskID]
	if !ok {
		return wavetypes.NewError(wavetypes.DependencyViolation,
			fmt.Sprintf("unknown task %q", taskID), map[string]any{"task": taskID})
	}
	if n.State == next {
		// processTaskStateChange with current state is a documented no-op.
		return nil
	}
	if !wavetypes.CanTransition(n.State, next) {
		return wavetypes.NewError(wavetypes.DependencyViolation,
			fmt.Sprintf("illegal transition %s -> %s for task %q", n.State, next, taskID),
			map[string]any{"task": taskID, "from": n.State, "to": next})
	}
	n.State = next
	return nil
}

// ReadyAfterCompletion scans taskID's forward neighbors and returns every
// still-Waiting neighbor whose dependencies are now all Completed. Callers
// decide whether to auto-promote the returned ids to Ready.
func (t *Tracker) ReadyAfterCompletion(taskID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[taskID]
	if !ok {
		return nil, wavetypes.NewError(wavetypes.DependencyViolation,
			fmt.Sprintf("unknown task %q", taskID), map[string]any{"task": taskID})
	}
	if n.State != wavetypes.Completed {
		return nil, nil
	}

	var promotable []string
	for _, childID := range n.DependedBy {
		child := t.nodes[childID]
		if child.State != wavetypes.Waiting {
			continue
		}
		allDone := true
		for _, dep := range child.DependsOn {
			if t.nodes[dep].State != wavetypes.Completed {
				allDone = false
				break
			}
		}
		if allDone {
			promotable = append(promotable, childID)
		}
	}
	return promotable, nil
}

// Reassign changes taskID's owning team without touching its state. It is
// used by the Rolling Frontier Manager to reconcile a work-stealing transfer
// or a ReassignTask optimization back into the owned DAG snapshot.
func (t *Tracker) Reassign(taskID, team string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[taskID]; ok {
		n.Team = team
	}
}

// RestoreState force-sets taskID's state without validating the transition.
// It exists solely for the Rolling Frontier Manager's rollback path, which
// must be able to restore a node to an arbitrary prior snapshot state even
// when that state is not reachable from the current one via a single legal
// transition.
func (t *Tracker) RestoreState(taskID string, state wavetypes.TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[taskID]; ok {
		n.State = state
	}
}

// Node returns a clone of the node for taskID, or false if unknown.
func (t *Tracker) Node(taskID string) (*wavetypes.DependencyNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[taskID]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Snapshot returns a clone of every node, keyed by task id.
func (t *Tracker) Snapshot() map[string]*wavetypes.DependencyNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*wavetypes.DependencyNode, len(t.nodes))
	for id, n := range t.nodes {
		out[id] = n.Clone()
	}
	return out
}

// Ready returns the ids of every node currently in the Ready state, sorted
// for determinism.
func (t *Tracker) Ready() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, n := range t.nodes {
		if n.State == wavetypes.Ready {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
