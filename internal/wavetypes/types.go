// Package wavetypes holds the data model shared by every wave-coordination
// component: tasks, dependency nodes, team capacity, wave boundaries and the
// frontier state they compose into.
package wavetypes

import "time"

// TaskState is the sum type governing a task's lifecycle.
type TaskState string

const (
	Waiting    TaskState = "waiting"
	Ready      TaskState = "ready"
	InProgress TaskState = "in_progress"
	Completed  TaskState = "completed"
	Blocked    TaskState = "blocked"
	Failed     TaskState = "failed"
)

// validTransitions enumerates the only legal TaskState moves.
var validTransitions = map[TaskState]map[TaskState]bool{
	Waiting:    {Ready: true, Blocked: true},
	Ready:      {InProgress: true, Blocked: true},
	InProgress: {Completed: true, Failed: true, Blocked: true},
	Blocked:    {Waiting: true, Ready: true},
	Failed:     {Waiting: true, Ready: true},
	Completed:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// TaskState transition.
func CanTransition(from, to TaskState) bool {
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Task is the unit of work tracked by the coordinator.
type Task struct {
	ID                  string
	Title               string
	Wave                int
	Team                string
	DependsOn           []string
	AcceptanceCriteria  []string
	Critical            bool
	EstimatedEffort     float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Clone returns a deep copy of t so callers never alias the tracker's
// internal slices.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	return &cp
}

// DependencyNode is the Dependency Tracker's internal representation of a
// task: the task data plus derived graph fields.
type DependencyNode struct {
	TaskID          string
	DependedBy      []string // forward edges: tasks that depend on this one
	DependsOn       []string // reverse edges: this task's dependencies
	State           TaskState
	Wave            int
	Team            string
	EstimatedEffort float64
	OnCriticalPath  bool
	BlockingFactor  int
}

// Clone returns a deep copy of n.
func (n *DependencyNode) Clone() *DependencyNode {
	if n == nil {
		return nil
	}
	cp := *n
	cp.DependedBy = append([]string(nil), n.DependedBy...)
	cp.DependsOn = append([]string(nil), n.DependsOn...)
	return &cp
}

// TeamCapacity describes one team's current and maximum concurrency.
type TeamCapacity struct {
	TeamID              string
	MaxConcurrentTasks  int
	CurrentLoad         int
	Velocity            float64
	Efficiency          float64
	Availability        float64
	SpecializationTags  []string
}

// Clone returns a deep copy of c.
func (c *TeamCapacity) Clone() *TeamCapacity {
	if c == nil {
		return nil
	}
	cp := *c
	cp.SpecializationTags = append([]string(nil), c.SpecializationTags...)
	return &cp
}

// UtilizedFraction returns CurrentLoad/MaxConcurrentTasks, or 0 when the team
// has no declared capacity.
func (c *TeamCapacity) UtilizedFraction() float64 {
	if c == nil || c.MaxConcurrentTasks <= 0 {
		return 0
	}
	return float64(c.CurrentLoad) / float64(c.MaxConcurrentTasks)
}

// TeamSkill is a single skill a team possesses.
type TeamSkill struct {
	SkillID      string
	Proficiency  float64
	Availability float64
}

// TaskRequirement is a single skill a task needs, with its importance.
type TaskRequirement struct {
	SkillID             string
	MinimumProficiency  float64
	Importance          float64
}

// WaveBoundary is a derived, atomically-replaced planning unit: the set of
// tasks a planner would execute together in one wave.
type WaveBoundary struct {
	Wave                int
	Start               time.Time
	EstimatedEnd        time.Time
	Tasks               []string
	Teams               []string
	ReadinessScore      float64
	CriticalPathLength  float64
	Parallelism         int
}

// Clone returns a deep copy of b.
func (b *WaveBoundary) Clone() *WaveBoundary {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Tasks = append([]string(nil), b.Tasks...)
	cp.Teams = append([]string(nil), b.Teams...)
	return &cp
}

// OptimizationAction names a declared rebalancing action the Frontier
// Calculator may recommend.
type OptimizationAction string

const (
	PromoteTask    OptimizationAction = "promote_task"
	DelayTask      OptimizationAction = "delay_task"
	ReassignTask   OptimizationAction = "reassign_task"
	SplitWave      OptimizationAction = "split_wave"
	MergeWaves     OptimizationAction = "merge_waves"
	AdjustCapacity OptimizationAction = "adjust_capacity"
)

// Urgency is an ordinal rank governing auto-apply eligibility.
type Urgency int

const (
	Low Urgency = iota
	Medium
	High
	Critical
)

// Impact quantifies the expected effect of applying an Optimization.
type Impact struct {
	ThroughputChange    float64
	DelayReduction      float64
	ResourceEfficiency  float64
	RiskLevel           float64
}

// Optimization is a single ranked recommendation produced by the Frontier
// Calculator.
type Optimization struct {
	ID         string
	Action     OptimizationAction
	Target     string
	Reason     string
	Impact     Impact
	Confidence float64
	Urgency    Urgency
	Applied    bool
}

// AggregateMetrics are the shared throughput/utilization figures consumed by
// the Rolling Frontier Manager's trigger evaluation.
type AggregateMetrics struct {
	Throughput           float64
	TotalUtilization     float64
	UtilizationVariance  float64
	BlockedTaskRatio     float64
	BottleneckTeams      []string
	UnderutilizedTeams   []string
}

// FrontierState is the Rolling Frontier Manager's complete owned state.
// External observers only ever see a Clone of this.
type FrontierState struct {
	PlanID             string
	CoordinationVersion int64
	Boundaries         []*WaveBoundary
	Metrics            AggregateMetrics
	Optimizations      []*Optimization
	Nodes              map[string]*DependencyNode
	Capacities         map[string]*TeamCapacity
	LastUpdate         time.Time
}

// Clone returns a deep copy of s, including every nested slice/map, so the
// caller can freely mutate the result.
func (s *FrontierState) Clone() *FrontierState {
	if s == nil {
		return nil
	}
	cp := &FrontierState{
		PlanID:              s.PlanID,
		CoordinationVersion: s.CoordinationVersion,
		Metrics:             s.Metrics,
		LastUpdate:          s.LastUpdate,
	}
	cp.Metrics.BottleneckTeams = append([]string(nil), s.Metrics.BottleneckTeams...)
	cp.Metrics.UnderutilizedTeams = append([]string(nil), s.Metrics.UnderutilizedTeams...)

	cp.Boundaries = make([]*WaveBoundary, len(s.Boundaries))
	for i, b := range s.Boundaries {
		cp.Boundaries[i] = b.Clone()
	}

	cp.Optimizations = make([]*Optimization, len(s.Optimizations))
	for i, o := range s.Optimizations {
		oc := *o
		cp.Optimizations[i] = &oc
	}

	cp.Nodes = make(map[string]*DependencyNode, len(s.Nodes))
	for id, n := range s.Nodes {
		cp.Nodes[id] = n.Clone()
	}

	cp.Capacities = make(map[string]*TeamCapacity, len(s.Capacities))
	for id, c := range s.Capacities {
		cp.Capacities[id] = c.Clone()
	}

	return cp
}
