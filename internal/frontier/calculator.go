// Package frontier is the Frontier Calculator: it generates candidate wave
// boundaries under four independent strategies, scores and greedily selects
// among them, and produces ranked optimization recommendations.
//
// The wave/boundary vocabulary and bounded-parallelism packing follow
// blueman82-conductor's WaveExecutor (wave.go): a plan is a sequence of
// waves, each wave's concurrency is bounded by capacity. Critical-path reuse
// is shared with internal/depgraph's Kahn's-order computation.
package frontier

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// Weights are the four objective weights used to score a candidate
// boundary. They default to (0.4, 0.3, 0.2, 0.1) and need not sum to 1.
type Weights struct {
	Throughput   float64
	Coordination float64
	Risk         float64
	Balance      float64
}

// DefaultWeights returns the spec's documented defaults.
func DefaultWeights() Weights {
	return Weights{Throughput: 0.4, Coordination: 0.3, Risk: 0.2, Balance: 0.1}
}

// Constraints bound candidate generation.
type Constraints struct {
	MaxWaveSize        int
	MaxConcurrentTasks map[string]int // per team
	CriticalPathBuffer float64
}

// Input is everything the calculator needs to produce boundaries.
type Input struct {
	Nodes         map[string]*wavetypes.DependencyNode
	Ready         []string // ready task ids, order not significant
	Capacities    map[string]*wavetypes.TeamCapacity
	CurrentWave   int
	Weights       Weights
	Constraints   Constraints
}

// candidate is one generated-but-unscored boundary grouping, prior to
// conversion into a wavetypes.WaveBoundary.
type candidate struct {
	wave  int
	tasks []string
}

// Calculate runs all four strategies, scores every resulting boundary, and
// greedily selects non-overlapping boundaries by descending score.
func Calculate(in Input) ([]*wavetypes.WaveBoundary, error) {
	if in.Weights == (Weights{}) {
		in.Weights = DefaultWeights()
	}
	if in.Constraints.MaxWaveSize <= 0 {
		in.Constraints.MaxWaveSize = 10
	}

	var allCandidates []candidate
	allCandidates = append(allCandidates, capacityFirst(in)...)
	allCandidates = append(allCandidates, dependencyFirst(in)...)
	allCandidates = append(allCandidates, balanced(in)...)
	allCandidates = append(allCandidates, criticalPathFirst(in)...)

	type scored struct {
		candidate
		score float64
		boundary *wavetypes.WaveBoundary
	}

	var scoredCandidates []scored
	for _, c := range allCandidates {
		if len(c.tasks) == 0 {
			continue
		}
		if len(c.tasks) > in.Constraints.MaxWaveSize {
			continue
		}
		if !withinCapacity(c, in) {
			continue
		}
		boundary := buildBoundary(c, in)
		score := scoreBoundary(boundary, c, in)
		scoredCandidates = append(scoredCandidates, scored{candidate: c, score: score, boundary: boundary})
	}

	sort.SliceStable(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].score > scoredCandidates[j].score })

	used := make(map[string]bool)
	var selected []*wavetypes.WaveBoundary
	for _, sc := range scoredCandidates {
		overlap := false
		for _, t := range sc.tasks {
			if used[t] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		for _, t := range sc.tasks {
			used[t] = true
		}
		selected = append(selected, sc.boundary)
	}

	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Wave < selected[j].Wave })
	return selected, nil
}

func withinCapacity(c candidate, in Input) bool {
	perTeam := make(map[string]int)
	for _, taskID := range c.tasks {
		node := in.Nodes[taskID]
		perTeam[node.Team]++
	}
	for team, count := range perTeam {
		if max := teamCapacityCeiling(in, team); max > 0 && count > max {
			return false
		}
	}
	return true
}

// teamCapacityCeiling returns the binding per-wave task ceiling for team: an
// explicit Constraints.MaxConcurrentTasks override takes precedence over the
// team's advertised TeamCapacity, and 0 means no ceiling configured.
func teamCapacityCeiling(in Input, team string) int {
	if max, ok := in.Constraints.MaxConcurrentTasks[team]; ok && max > 0 {
		return max
	}
	if cap, ok := in.Capacities[team]; ok {
		return cap.MaxConcurrentTasks
	}
	return 0
}

// ValidateCapacity returns a CapacityOverflow CoordinatorError if b assigns
// more tasks to any team than that team's capacity ceiling allows. Callers
// use this as a defensive post-generation check per SPEC_FULL.md §4.5 (the
// packing strategies below already stop a wave short of the ceiling, so this
// should only ever fire against a hand-built or externally-merged boundary).
func ValidateCapacity(b *wavetypes.WaveBoundary, in Input) error {
	perTeam := make(map[string]int)
	for _, taskID := range b.Tasks {
		node := in.Nodes[taskID]
		perTeam[node.Team]++
	}
	for team, count := range perTeam {
		if max := teamCapacityCeiling(in, team); max > 0 && count > max {
			return wavetypes.NewError(wavetypes.CapacityOverflow,
				fmt.Sprintf("wave %d assigns %d tasks to team %q, exceeding capacity %d", b.Wave, count, team, max),
				map[string]any{"wave": b.Wave, "team": team, "count": count, "max": max})
		}
	}
	return nil
}

func buildBoundary(c candidate, in Input) *wavetypes.WaveBoundary {
	teamSet := make(map[string]bool)
	var criticalLen float64
	for _, taskID := range c.tasks {
		node := in.Nodes[taskID]
		teamSet[node.Team] = true
		if node.OnCriticalPath && node.EstimatedEffort > criticalLen {
			criticalLen = node.EstimatedEffort
		}
	}
	teams := make([]string, 0, len(teamSet))
	for t := range teamSet {
		teams = append(teams, t)
	}
	sort.Strings(teams)

	tasks := append([]string(nil), c.tasks...)
	sort.Strings(tasks)

	buffer := criticalLen * in.Constraints.CriticalPathBuffer
	start := time.Now()

	return &wavetypes.WaveBoundary{
		Wave:               c.wave,
		Start:              start,
		Tasks:              tasks,
		Teams:              teams,
		CriticalPathLength: criticalLen,
		Parallelism:        len(tasks),
		EstimatedEnd:       start.Add(time.Duration((criticalLen + buffer) * float64(time.Hour))),
	}
}

// scoreBoundary implements the weighted four-term selection score, reading
// per-task team/criticality straight from node data so risk and balance are
// exact rather than approximated from the derived boundary alone.
func scoreBoundary(b *wavetypes.WaveBoundary, c candidate, in Input) float64 {
	w := in.Weights
	throughput := math.Min(1, float64(b.Parallelism)/10)
	coordination := math.Max(0, 1-0.1*float64(len(b.Teams)))

	perTeam := make(map[string]int, len(b.Teams))
	criticalCount := 0
	for _, taskID := range c.tasks {
		node := in.Nodes[taskID]
		perTeam[node.Team]++
		if node.OnCriticalPath {
			criticalCount++
		}
	}

	risk := math.Max(0, 1-0.2*float64(criticalCount))
	balance := 1.0
	if len(c.tasks) > 0 {
		balance = 1 - teamCountStdDev(perTeam)/float64(len(c.tasks))
	}

	return w.Throughput*throughput + w.Coordination*coordination + w.Risk*risk + w.Balance*balance
}

// teamCountStdDev returns the population standard deviation of per-team task
// counts given the exact counts tallied by the caller.
func teamCountStdDev(perTeam map[string]int) float64 {
	if len(perTeam) == 0 {
		return 0
	}
	var mean float64
	for _, c := range perTeam {
		mean += float64(c)
	}
	mean /= float64(len(perTeam))
	var variance float64
	for _, c := range perTeam {
		variance += (float64(c) - mean) * (float64(c) - mean)
	}
	variance /= float64(len(perTeam))
	return math.Sqrt(variance)
}

func capacityFirst(in Input) []candidate {
	ready := append([]string(nil), in.Ready...)
	sort.SliceStable(ready, func(i, j int) bool {
		return availableCapacity(in, in.Nodes[ready[i]].Team) > availableCapacity(in, in.Nodes[ready[j]].Team)
	})
	return packByCapacity(ready, in)
}

func dependencyFirst(in Input) []candidate {
	ready := append([]string(nil), in.Ready...)
	sort.SliceStable(ready, func(i, j int) bool {
		return in.Nodes[ready[i]].BlockingFactor > in.Nodes[ready[j]].BlockingFactor
	})

	var candidates []candidate
	wave := in.CurrentWave
	i := 0
	for i < len(ready) {
		j := i + 1
		for j < len(ready) && in.Nodes[ready[j]].BlockingFactor == in.Nodes[ready[i]].BlockingFactor {
			j++
		}
		groupIn := in
		groupIn.CurrentWave = wave
		packed := packByCapacity(ready[i:j], groupIn)
		candidates = append(candidates, packed...)
		if len(packed) > 0 {
			wave = packed[len(packed)-1].wave + 1
		}
		i = j
	}
	return candidates
}

func balanced(in Input) []candidate {
	ready := append([]string(nil), in.Ready...)
	sort.SliceStable(ready, func(i, j int) bool {
		return compositeScore(in, ready[i]) > compositeScore(in, ready[j])
	})
	return packByCapacity(ready, in)
}

func criticalPathFirst(in Input) []candidate {
	var critical, rest []string
	for _, id := range in.Ready {
		if in.Nodes[id].OnCriticalPath {
			critical = append(critical, id)
		} else {
			rest = append(rest, id)
		}
	}
	var candidates []candidate
	if len(critical) > 0 {
		candidates = append(candidates, packByCapacity(critical, in)...)
	}
	if len(rest) > 0 {
		nextWaveIn := in
		nextWaveIn.CurrentWave = in.CurrentWave + 1
		if len(candidates) > 0 {
			nextWaveIn.CurrentWave = candidates[len(candidates)-1].wave + 1
		}
		candidates = append(candidates, packByCapacity(rest, nextWaveIn)...)
	}
	return candidates
}

// packByCapacity greedily chunks ordered task ids into wave candidates,
// closing the current chunk whenever either the wave-size ceiling or any one
// team's capacity ceiling would otherwise be exceeded. This defers the
// overflow tasks to a later wave instead of letting a single oversized
// candidate get discarded wholesale by withinCapacity (spec §8 scenario 3).
func packByCapacity(ordered []string, in Input) []candidate {
	var candidates []candidate
	wave := in.CurrentWave
	var current []string
	teamCount := make(map[string]int)

	flush := func() {
		if len(current) == 0 {
			return
		}
		candidates = append(candidates, candidate{wave: wave, tasks: append([]string(nil), current...)})
		wave++
		current = nil
		teamCount = make(map[string]int)
	}

	for _, id := range ordered {
		team := in.Nodes[id].Team
		ceiling := teamCapacityCeiling(in, team)
		overWaveSize := in.Constraints.MaxWaveSize > 0 && len(current) >= in.Constraints.MaxWaveSize
		overTeamCeiling := ceiling > 0 && teamCount[team] >= ceiling
		if overWaveSize || overTeamCeiling {
			flush()
		}
		current = append(current, id)
		teamCount[team]++
	}
	flush()
	return candidates
}

func availableCapacity(in Input, team string) int {
	c, ok := in.Capacities[team]
	if !ok {
		return 0
	}
	return c.MaxConcurrentTasks - c.CurrentLoad
}

// CompositeScore exposes the Balanced strategy's per-task composite score
// (blocking factor, available capacity, critical-path membership) for reuse
// by SplitWave's median-score partitioning in internal/rolling.
func CompositeScore(in Input, taskID string) float64 {
	return compositeScore(in, taskID)
}

func compositeScore(in Input, taskID string) float64 {
	node := in.Nodes[taskID]
	blockingNorm := math.Min(1, float64(node.BlockingFactor)/float64(len(in.Nodes)+1))
	capNorm := float64(availableCapacity(in, node.Team))
	if capNorm > 0 {
		capNorm = math.Min(1, capNorm/10)
	}
	critical := 0.0
	if node.OnCriticalPath {
		critical = 1
	}
	return 0.4*blockingNorm + 0.3*capNorm + 0.3*critical
}

// NewOptimizationID generates a fresh optimization id, matching the
// teacher's uuid-for-correlation-id convention.
func NewOptimizationID() string {
	return uuid.NewString()
}

// ResolveConflicts sorts optimizations so that, among those sharing the same
// Target, only the highest-urgency (ties broken by higher confidence) one is
// kept.
func ResolveConflicts(opts []*wavetypes.Optimization) []*wavetypes.Optimization {
	byTarget := make(map[string]*wavetypes.Optimization)
	for _, o := range opts {
		existing, ok := byTarget[o.Target]
		if !ok {
			byTarget[o.Target] = o
			continue
		}
		if o.Urgency > existing.Urgency || (o.Urgency == existing.Urgency && o.Confidence > existing.Confidence) {
			byTarget[o.Target] = o
		}
	}
	out := make([]*wavetypes.Optimization, 0, len(byTarget))
	for _, o := range byTarget {
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
