// Package routing assigns inbound tasks to departments and workers.
// Tenant-defined rules evaluate in priority order; the first match
// wins. Without a match the engine falls back to the department that
// handles the task type, or to the generic service desk.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/observability/metrics"
	"github.com/itf-gmbh/phone-agent/internal/tenancy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// ErrAlreadyRouted marks a task the engine refuses to touch again.
// Routing an assigned task must be a no-op, so the caller decides
// whether that is an error or expected.
var ErrAlreadyRouted = errors.New("routing: task already routed")

// urgencyPriority maps urgency to the base routing priority. Smaller
// is more urgent.
var urgencyPriority = map[tenancy.Urgency]int{
	tenancy.UrgencyNotfall:  0,
	tenancy.UrgencyDringend: 50,
	tenancy.UrgencyNormal:   100,
	tenancy.UrgencyRoutine:  150,
}

// escalationWindow is how long an assigned task may sit untouched
// before the sweep escalates it, by urgency.
var escalationWindow = map[tenancy.Urgency]time.Duration{
	tenancy.UrgencyNotfall:  15 * time.Minute,
	tenancy.UrgencyDringend: 60 * time.Minute,
}

// Directory is the tenancy store surface the engine reads and writes.
type Directory interface {
	ListActiveRules(ctx context.Context, tenantID uuid.UUID) ([]tenancy.RoutingRule, error)
	ListActiveDepartments(ctx context.Context, tenantID uuid.UUID) ([]tenancy.Department, error)
	ListDepartmentWorkers(ctx context.Context, departmentID uuid.UUID) ([]tenancy.Worker, error)
	GetWorker(ctx context.Context, id uuid.UUID) (*tenancy.Worker, error)
	ApplyAssignment(ctx context.Context, task *tenancy.Task) error
	UpdateTaskRouting(ctx context.Context, taskID uuid.UUID, priority int, reason string) error
	StaleAssignments(ctx context.Context, tenantID uuid.UUID, olderThan time.Time, limit int) ([]tenancy.Task, error)
}

// Notifier pushes assignment and escalation notifications to workers.
type Notifier interface {
	NotifyTaskAssigned(ctx context.Context, task *tenancy.Task, worker *tenancy.Worker, channels []string) error
	NotifyEscalation(ctx context.Context, task *tenancy.Task, worker *tenancy.Worker, reason string) error
}

// Decision is the outcome of one routing run.
type Decision struct {
	DepartmentID         *uuid.UUID `json:"department_id,omitempty"`
	DepartmentName       string     `json:"department_name,omitempty"`
	WorkerID             *uuid.UUID `json:"worker_id,omitempty"`
	WorkerName           string     `json:"worker_name,omitempty"`
	MatchedRuleID        *uuid.UUID `json:"matched_rule_id,omitempty"`
	MatchedRuleName      string     `json:"matched_rule_name,omitempty"`
	Priority             int        `json:"priority"`
	Reason               string     `json:"reason"`
	SendNotification     bool       `json:"send_notification"`
	NotificationChannels []string   `json:"notification_channels,omitempty"`
	EscalateAfterMinutes *int       `json:"escalate_after_minutes,omitempty"`
}

// Engine evaluates routing rules and applies assignment decisions.
type Engine struct {
	store     Directory
	notifier  Notifier
	auditLog  *audit.Logger
	proximity ProximityFunc
	metrics   *metrics.TaskMetrics
	clk       clock.Clock
	logger    *logging.Logger
}

func NewEngine(store Directory, clk clock.Clock, logger *logging.Logger) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:  store,
		clk:    clk,
		logger: logger.WithComponent("routing"),
	}
}

func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

func (e *Engine) WithAuditLog(l *audit.Logger) *Engine {
	e.auditLog = l
	return e
}

// WithProximity installs a geo collaborator that biases worker
// selection toward nearby workers.
func (e *Engine) WithProximity(p ProximityFunc) *Engine {
	e.proximity = p
	return e
}

func (e *Engine) WithMetrics(m *metrics.TaskMetrics) *Engine {
	e.metrics = m
	return e
}

// RouteTask decides and applies the assignment for a new task. The
// task is mutated in place with the decision fields.
func (e *Engine) RouteTask(ctx context.Context, task *tenancy.Task) (*Decision, error) {
	if task.AssignedDepartmentID != nil || task.Status != tenancy.TaskNew {
		return nil, ErrAlreadyRouted
	}

	decision, err := e.decide(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, task, decision); err != nil {
		return nil, err
	}

	if decision.SendNotification && decision.WorkerID != nil && e.notifier != nil {
		worker, err := e.store.GetWorker(ctx, *decision.WorkerID)
		if err == nil {
			if err := e.notifier.NotifyTaskAssigned(ctx, task, worker, decision.NotificationChannels); err != nil {
				e.logger.Error("assignment notification failed", "task_id", task.ID, "error", err)
			}
		}
	}

	e.metrics.ObserveRouted(string(task.SourceType), string(task.Urgency), decision.WorkerID != nil)
	e.auditRouting(ctx, task, decision)
	e.logger.Info("task routed",
		"task_id", task.ID,
		"department", decision.DepartmentName,
		"worker", decision.WorkerName,
		"priority", decision.Priority,
		"reason", decision.Reason)
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, task *tenancy.Task) (*Decision, error) {
	rules, err := e.store.ListActiveRules(ctx, task.TenantID)
	if err != nil {
		return nil, fmt.Errorf("routing: load rules: %w", err)
	}

	decision := &Decision{Priority: urgencyPriority[task.Urgency]}
	e.applyUrgencyDefaults(task, decision)

	for i := range rules {
		rule := &rules[i]
		if !matchesConditions(rule.Conditions, task) {
			continue
		}
		ruleID := rule.ID
		decision.MatchedRuleID = &ruleID
		decision.MatchedRuleName = rule.Name
		decision.Reason = "Matched rule: " + rule.Name
		if rule.SetPriority != nil {
			decision.Priority = *rule.SetPriority
		}
		if rule.SendNotification {
			decision.SendNotification = true
			if len(rule.NotificationChannels) > 0 {
				decision.NotificationChannels = rule.NotificationChannels
			}
		}
		if rule.EscalateAfterMinutes != nil {
			decision.EscalateAfterMinutes = rule.EscalateAfterMinutes
		}

		if rule.RouteToWorkerID != nil {
			worker, err := e.store.GetWorker(ctx, *rule.RouteToWorkerID)
			if err != nil {
				return nil, fmt.Errorf("routing: resolve rule worker: %w", err)
			}
			decision.WorkerID = &worker.ID
			decision.WorkerName = worker.Name
			decision.DepartmentID = worker.DepartmentID
			return decision, nil
		}
		if rule.RouteToDepartmentID != nil {
			if err := e.selectInDepartment(ctx, task, *rule.RouteToDepartmentID, decision); err != nil {
				return nil, err
			}
			return decision, nil
		}
		// Rule matched but routes nowhere; fall through to defaults
		// while keeping its priority and notification settings.
		break
	}

	return decision, e.defaultRoute(ctx, task, decision)
}

// defaultRoute picks the first active department handling the task
// type, falling back to the generic service desk.
func (e *Engine) defaultRoute(ctx context.Context, task *tenancy.Task, decision *Decision) error {
	departments, err := e.store.ListActiveDepartments(ctx, task.TenantID)
	if err != nil {
		return fmt.Errorf("routing: load departments: %w", err)
	}

	var target *tenancy.Department
	for i := range departments {
		if departments[i].HandlesTaskType(task.TaskType) {
			target = &departments[i]
			break
		}
	}
	if target == nil {
		for i := range departments {
			if strings.Contains(strings.ToLower(departments[i].Name), "kundendienst") {
				target = &departments[i]
				break
			}
		}
	}
	if target == nil {
		decision.Reason = "No department handles task type " + task.TaskType
		return nil
	}

	if decision.Reason == "" {
		decision.Reason = "Default fallback: " + target.Name
	}
	return e.selectInDepartment(ctx, task, target.ID, decision)
}

func (e *Engine) selectInDepartment(ctx context.Context, task *tenancy.Task, departmentID uuid.UUID, decision *Decision) error {
	workers, err := e.store.ListDepartmentWorkers(ctx, departmentID)
	if err != nil {
		return fmt.Errorf("routing: load department workers: %w", err)
	}
	decision.DepartmentID = &departmentID
	if w := selectWorker(workers, task, e.proximity); w != nil {
		workerID := w.ID
		decision.WorkerID = &workerID
		decision.WorkerName = w.Name
	}
	return nil
}

// applyUrgencyDefaults forces notifications for emergencies regardless
// of rule configuration.
func (e *Engine) applyUrgencyDefaults(task *tenancy.Task, decision *Decision) {
	switch task.Urgency {
	case tenancy.UrgencyNotfall:
		decision.SendNotification = true
		decision.NotificationChannels = []string{"sms", "email"}
		m := 15
		decision.EscalateAfterMinutes = &m
	case tenancy.UrgencyDringend:
		decision.SendNotification = true
		decision.NotificationChannels = []string{"sms", "email"}
		m := 60
		decision.EscalateAfterMinutes = &m
	}
}

// apply writes the decision onto the task and persists it. The task
// becomes assigned only when a worker was chosen.
func (e *Engine) apply(ctx context.Context, task *tenancy.Task, decision *Decision) error {
	now := e.clk.Now()
	task.AssignedDepartmentID = decision.DepartmentID
	task.RoutingPriority = decision.Priority
	task.RoutingReason = decision.Reason
	if decision.WorkerID != nil {
		task.AssignedWorkerID = decision.WorkerID
		task.AssignedAt = &now
		task.AssignedBy = "auto_routing"
		task.Status = tenancy.TaskAssigned
	}
	if err := e.store.ApplyAssignment(ctx, task); err != nil {
		return err
	}
	return nil
}

// Escalate bumps a task's urgency standing: the priority halves with a
// floor of zero, and the reason records why.
func (e *Engine) Escalate(ctx context.Context, task *tenancy.Task, reason string) error {
	task.RoutingPriority = task.RoutingPriority / 2
	if task.RoutingPriority < 0 {
		task.RoutingPriority = 0
	}
	task.RoutingReason = fmt.Sprintf("ESCALATED (%s) | %s", reason, task.RoutingReason)

	if err := e.store.UpdateTaskRouting(ctx, task.ID, task.RoutingPriority, task.RoutingReason); err != nil {
		return err
	}

	if e.notifier != nil && task.AssignedWorkerID != nil {
		if worker, err := e.store.GetWorker(ctx, *task.AssignedWorkerID); err == nil {
			if err := e.notifier.NotifyEscalation(ctx, task, worker, reason); err != nil {
				e.logger.Error("escalation notification failed", "task_id", task.ID, "error", err)
			}
		}
	}

	e.metrics.ObserveEscalation(string(task.Urgency))
	e.auditAction(ctx, task, audit.ActionTaskEscalated, map[string]any{
		"task_id":  task.ID.String(),
		"reason":   reason,
		"priority": task.RoutingPriority,
	})
	e.logger.Warn("task escalated", "task_id", task.ID, "reason", reason, "priority", task.RoutingPriority)
	return nil
}

// SweepStale escalates assigned tasks that sat past their urgency's
// escalation window. Returns how many tasks were escalated.
func (e *Engine) SweepStale(ctx context.Context, tenantID uuid.UUID, limit int) (int, error) {
	now := e.clk.Now()
	oldest := now.Add(-escalationWindow[tenancy.UrgencyNotfall])
	tasks, err := e.store.StaleAssignments(ctx, tenantID, oldest, limit)
	if err != nil {
		return 0, fmt.Errorf("routing: sweep stale: %w", err)
	}

	escalated := 0
	for i := range tasks {
		task := &tasks[i]
		window, ok := escalationWindow[task.Urgency]
		if !ok || task.AssignedAt == nil {
			continue
		}
		elapsed := now.Sub(*task.AssignedAt)
		if elapsed < window {
			continue
		}
		if strings.HasPrefix(task.RoutingReason, "ESCALATED") {
			continue
		}
		reason := fmt.Sprintf("no progress after %d minutes", int(elapsed.Minutes()))
		if err := e.Escalate(ctx, task, reason); err != nil {
			e.logger.Error("escalation failed", "task_id", task.ID, "error", err)
			continue
		}
		escalated++
	}
	return escalated, nil
}

func (e *Engine) auditRouting(ctx context.Context, task *tenancy.Task, decision *Decision) {
	details := map[string]any{
		"task_id":  task.ID.String(),
		"priority": decision.Priority,
		"reason":   decision.Reason,
	}
	if decision.MatchedRuleID != nil {
		details["matched_rule_id"] = decision.MatchedRuleID.String()
		details["matched_rule_name"] = decision.MatchedRuleName
	}
	if decision.WorkerID != nil {
		details["worker_id"] = decision.WorkerID.String()
	}
	e.auditAction(ctx, task, audit.ActionTaskRouted, details)
}

func (e *Engine) auditAction(ctx context.Context, task *tenancy.Task, action audit.Action, detail map[string]any) {
	if e.auditLog == nil {
		return
	}
	details, _ := json.Marshal(detail)
	if _, err := e.auditLog.Append(ctx, audit.Entry{
		TenantID:     task.TenantID,
		Action:       action,
		ActorID:      "auto_routing",
		ActorType:    "system",
		ResourceType: "task",
		ResourceID:   task.ID.String(),
		Details:      details,
	}); err != nil {
		e.logger.Error("audit append failed", "error", err)
	}
}
