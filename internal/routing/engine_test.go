package routing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/tenancy"
)

type memoryDirectory struct {
	rules       []tenancy.RoutingRule
	departments []tenancy.Department
	workers     map[uuid.UUID][]tenancy.Worker // by department

	applied  []*tenancy.Task
	routing  map[uuid.UUID]string // task id -> updated reason
	stale    []tenancy.Task
	bumps    map[uuid.UUID]int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		workers: make(map[uuid.UUID][]tenancy.Worker),
		routing: make(map[uuid.UUID]string),
		bumps:   make(map[uuid.UUID]int),
	}
}

func (m *memoryDirectory) ListActiveRules(context.Context, uuid.UUID) ([]tenancy.RoutingRule, error) {
	return m.rules, nil
}

func (m *memoryDirectory) ListActiveDepartments(context.Context, uuid.UUID) ([]tenancy.Department, error) {
	return m.departments, nil
}

func (m *memoryDirectory) ListDepartmentWorkers(_ context.Context, departmentID uuid.UUID) ([]tenancy.Worker, error) {
	return m.workers[departmentID], nil
}

func (m *memoryDirectory) GetWorker(_ context.Context, id uuid.UUID) (*tenancy.Worker, error) {
	for _, list := range m.workers {
		for i := range list {
			if list[i].ID == id {
				return &list[i], nil
			}
		}
	}
	return nil, tenancy.ErrNotFound
}

func (m *memoryDirectory) ApplyAssignment(_ context.Context, task *tenancy.Task) error {
	m.applied = append(m.applied, task)
	if task.AssignedWorkerID != nil {
		m.bumps[*task.AssignedWorkerID]++
	}
	return nil
}

func (m *memoryDirectory) UpdateTaskRouting(_ context.Context, taskID uuid.UUID, _ int, reason string) error {
	m.routing[taskID] = reason
	return nil
}

func (m *memoryDirectory) StaleAssignments(context.Context, uuid.UUID, time.Time, int) ([]tenancy.Task, error) {
	return m.stale, nil
}

type recordingNotifier struct {
	assigned  []uuid.UUID
	escalated []uuid.UUID
	channels  [][]string
}

func (n *recordingNotifier) NotifyTaskAssigned(_ context.Context, task *tenancy.Task, _ *tenancy.Worker, channels []string) error {
	n.assigned = append(n.assigned, task.ID)
	n.channels = append(n.channels, channels)
	return nil
}

func (n *recordingNotifier) NotifyEscalation(_ context.Context, task *tenancy.Task, _ *tenancy.Worker, _ string) error {
	n.escalated = append(n.escalated, task.ID)
	return nil
}

func intPtr(v int) *int { return &v }

func TestRouteTaskMatchesRuleAndPicksTradeWorker(t *testing.T) {
	dir := newMemoryDirectory()
	deptID := uuid.New()
	dir.departments = []tenancy.Department{{ID: deptID, Name: "Reparatur", HandledTaskTypes: []string{"repair"}, Active: true}}

	w1 := tenancy.Worker{ID: uuid.New(), DepartmentID: &deptID, Name: "W1", TradeCategories: []string{"shk"}, Active: true, Available: true, CurrentTaskCount: 2, MaxTasksPerDay: 10}
	w2 := tenancy.Worker{ID: uuid.New(), DepartmentID: &deptID, Name: "W2", TradeCategories: []string{"elektro"}, Active: true, Available: true, CurrentTaskCount: 0, MaxTasksPerDay: 10}
	dir.workers[deptID] = []tenancy.Worker{w1, w2}

	ruleID := uuid.New()
	dir.rules = []tenancy.RoutingRule{{
		ID:       ruleID,
		Name:     "Dringende Reparaturen",
		Priority: 10,
		Active:   true,
		Conditions: tenancy.RuleConditions{
			"task_type": []any{"repair"},
			"urgency":   []any{"dringend"},
		},
		RouteToDepartmentID: &deptID,
		SetPriority:         intPtr(20),
		SendNotification:    true,
	}}

	notifier := &recordingNotifier{}
	engine := NewEngine(dir, clock.Fixed{T: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}, nil).WithNotifier(notifier)

	task := &tenancy.Task{
		ID:            uuid.New(),
		TenantID:      uuid.New(),
		SourceType:    tenancy.SourceEmail,
		TaskType:      "repair",
		Urgency:       tenancy.UrgencyDringend,
		TradeCategory: "shk",
		Status:        tenancy.TaskNew,
	}

	decision, err := engine.RouteTask(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, decision.MatchedRuleID)
	assert.Equal(t, ruleID, *decision.MatchedRuleID)
	assert.Equal(t, "Dringende Reparaturen", decision.MatchedRuleName)
	require.NotNil(t, decision.WorkerID)
	assert.Equal(t, w1.ID, *decision.WorkerID)
	assert.Equal(t, 20, decision.Priority)
	assert.True(t, strings.HasPrefix(decision.Reason, "Matched rule:"))
	assert.True(t, decision.SendNotification)
	assert.Equal(t, []string{"sms", "email"}, decision.NotificationChannels)
	require.NotNil(t, decision.EscalateAfterMinutes)
	assert.Equal(t, 60, *decision.EscalateAfterMinutes)

	assert.Equal(t, tenancy.TaskAssigned, task.Status)
	assert.Equal(t, "auto_routing", task.AssignedBy)
	require.NotNil(t, task.AssignedAt)
	assert.Equal(t, 1, dir.bumps[w1.ID])
	assert.Equal(t, []uuid.UUID{task.ID}, notifier.assigned)
}

func TestRouteTaskDefaultFallbackByName(t *testing.T) {
	dir := newMemoryDirectory()
	deptID := uuid.New()
	dir.departments = []tenancy.Department{{ID: deptID, Name: "Kundendienst", HandledTaskTypes: []string{"general"}, Active: true}}
	worker := tenancy.Worker{ID: uuid.New(), DepartmentID: &deptID, Name: "Dispatcher", Active: true, Available: true, MaxTasksPerDay: 20}
	dir.workers[deptID] = []tenancy.Worker{worker}

	engine := NewEngine(dir, nil, nil)
	task := &tenancy.Task{ID: uuid.New(), TenantID: uuid.New(), TaskType: "quote", Urgency: tenancy.UrgencyNormal, Status: tenancy.TaskNew}

	decision, err := engine.RouteTask(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, decision.DepartmentID)
	assert.Equal(t, deptID, *decision.DepartmentID)
	require.NotNil(t, decision.WorkerID)
	assert.Contains(t, decision.Reason, "Default fallback")
	assert.Equal(t, 100, decision.Priority)
	assert.False(t, decision.SendNotification)
}

func TestRouteTaskNoEligibleWorkerLeavesTaskNew(t *testing.T) {
	dir := newMemoryDirectory()
	deptID := uuid.New()
	dir.departments = []tenancy.Department{{ID: deptID, Name: "Technik", HandledTaskTypes: []string{"repair"}, Active: true}}
	dir.workers[deptID] = []tenancy.Worker{
		{ID: uuid.New(), Name: "Offline", Active: true, Available: false, MaxTasksPerDay: 10},
		{ID: uuid.New(), Name: "Full", Active: true, Available: true, CurrentTaskCount: 10, MaxTasksPerDay: 10},
	}

	engine := NewEngine(dir, nil, nil)
	task := &tenancy.Task{ID: uuid.New(), TenantID: uuid.New(), TaskType: "repair", Urgency: tenancy.UrgencyRoutine, Status: tenancy.TaskNew}

	decision, err := engine.RouteTask(context.Background(), task)
	require.NoError(t, err)
	assert.Nil(t, decision.WorkerID)
	require.NotNil(t, decision.DepartmentID)
	assert.Equal(t, tenancy.TaskNew, task.Status)
	assert.Nil(t, task.AssignedWorkerID)
	assert.Equal(t, 150, decision.Priority)
}

func TestRouteTaskIsIdempotent(t *testing.T) {
	engine := NewEngine(newMemoryDirectory(), nil, nil)
	deptID := uuid.New()
	task := &tenancy.Task{ID: uuid.New(), Status: tenancy.TaskAssigned, AssignedDepartmentID: &deptID}

	_, err := engine.RouteTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrAlreadyRouted)
}

func TestRouteTaskPLZAndDistanceConditions(t *testing.T) {
	dir := newMemoryDirectory()
	deptNorth := uuid.New()
	deptDesk := uuid.New()
	dir.departments = []tenancy.Department{
		{ID: deptNorth, Name: "Nord", Active: true},
		{ID: deptDesk, Name: "Kundendienst", Active: true},
	}
	dir.rules = []tenancy.RoutingRule{{
		ID:       uuid.New(),
		Name:     "Nordbezirk",
		Priority: 5,
		Active:   true,
		Conditions: tenancy.RuleConditions{
			"customer_plz_starts": "22",
			"distance_km_max":     float64(30),
		},
		RouteToDepartmentID: &deptNorth,
	}}

	engine := NewEngine(dir, nil, nil)

	near := 12.5
	task := &tenancy.Task{ID: uuid.New(), TaskType: "repair", Urgency: tenancy.UrgencyNormal, CustomerPLZ: "22087", DistanceKM: &near, Status: tenancy.TaskNew}
	decision, err := engine.RouteTask(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, decision.DepartmentID)
	assert.Equal(t, deptNorth, *decision.DepartmentID)

	far := 80.0
	other := &tenancy.Task{ID: uuid.New(), TaskType: "repair", Urgency: tenancy.UrgencyNormal, CustomerPLZ: "22087", DistanceKM: &far, Status: tenancy.TaskNew}
	decision, err = engine.RouteTask(context.Background(), other)
	require.NoError(t, err)
	require.NotNil(t, decision.DepartmentID)
	assert.Equal(t, deptDesk, *decision.DepartmentID)
	assert.Nil(t, decision.MatchedRuleID)
}

func TestEscalateHalvesPriorityAndTagsReason(t *testing.T) {
	dir := newMemoryDirectory()
	notifier := &recordingNotifier{}
	engine := NewEngine(dir, nil, nil).WithNotifier(notifier)

	task := &tenancy.Task{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		RoutingPriority: 50,
		RoutingReason:   "Matched rule: Notdienst",
	}
	require.NoError(t, engine.Escalate(context.Background(), task, "no progress after 60 minutes"))

	assert.Equal(t, 25, task.RoutingPriority)
	assert.Equal(t, "ESCALATED (no progress after 60 minutes) | Matched rule: Notdienst", task.RoutingReason)
	assert.Equal(t, task.RoutingReason, dir.routing[task.ID])
	assert.Empty(t, notifier.escalated) // no worker assigned, nobody to notify
}

func TestSweepStaleEscalatesByUrgencyWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	dir := newMemoryDirectory()
	engine := NewEngine(dir, clock.Fixed{T: now}, nil)

	overdue := now.Add(-30 * time.Minute)
	fresh := now.Add(-5 * time.Minute)
	dir.stale = []tenancy.Task{
		{ID: uuid.New(), Urgency: tenancy.UrgencyNotfall, AssignedAt: &overdue, RoutingPriority: 10, RoutingReason: "Matched rule: Notdienst"},
		{ID: uuid.New(), Urgency: tenancy.UrgencyNotfall, AssignedAt: &fresh, RoutingPriority: 0},
		{ID: uuid.New(), Urgency: tenancy.UrgencyNormal, AssignedAt: &overdue, RoutingPriority: 100},
		{ID: uuid.New(), Urgency: tenancy.UrgencyDringend, AssignedAt: &overdue, RoutingPriority: 50, RoutingReason: "ESCALATED (x) | y"},
	}

	escalated, err := engine.SweepStale(context.Background(), uuid.New(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, escalated)
	assert.Len(t, dir.routing, 1)
}
