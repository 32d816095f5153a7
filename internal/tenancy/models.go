package tenancy

import (
	"time"

	"github.com/google/uuid"
)

// TaskSource identifies the inbound channel a task came from.
type TaskSource string

const (
	SourcePhone TaskSource = "phone"
	SourceEmail TaskSource = "email"
	SourceForm  TaskSource = "form"
)

// Urgency is the routing urgency of a task. German terms are part of the
// wire format and persisted as-is.
type Urgency string

const (
	UrgencyNotfall  Urgency = "notfall"
	UrgencyDringend Urgency = "dringend"
	UrgencyNormal   Urgency = "normal"
	UrgencyRoutine  Urgency = "routine"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskNew        TaskStatus = "new"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Tenant is one customer business. All routing-scoped data hangs off it.
type Tenant struct {
	ID        uuid.UUID
	Subdomain string
	Name      string
	Industry  string
	Status    string
	CreatedAt time.Time
}

// Department groups workers inside a tenant.
type Department struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Name             string
	HandledTaskTypes []string
	Active           bool
}

// HandlesTaskType reports whether the department claims the given task type.
func (d Department) HandlesTaskType(taskType string) bool {
	for _, t := range d.HandledTaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// Worker is an assignable person inside a tenant, optionally scoped to a
// department.
type Worker struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	DepartmentID     *uuid.UUID
	Name             string
	Phone            string
	Email            string
	TradeCategories  []string
	Active           bool
	Available        bool
	CurrentTaskCount int
	MaxTasksPerDay   int
}

// HasTrade reports whether the worker covers the given trade category.
func (w Worker) HasTrade(trade string) bool {
	for _, t := range w.TradeCategories {
		if t == trade {
			return true
		}
	}
	return false
}

// HasCapacity reports whether the worker can take another task today.
func (w Worker) HasCapacity() bool {
	return w.MaxTasksPerDay <= 0 || w.CurrentTaskCount < w.MaxTasksPerDay
}

// RuleConditions maps a task field name to an expected value. Values are a
// scalar (equality) or a list (membership). Two special fields exist:
// customer_plz_starts (prefix match) and distance_km_max (numeric ceiling).
type RuleConditions map[string]any

// RoutingRule is a tenant-scoped ordered rule. Lower priority evaluates
// first.
type RoutingRule struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	Name                 string
	Priority             int
	Active               bool
	Conditions           RuleConditions
	RouteToDepartmentID  *uuid.UUID
	RouteToWorkerID      *uuid.UUID
	SetPriority          *int
	EscalateAfterMinutes *int
	SendNotification     bool
	NotificationChannels []string
}

// Task is a unit of work created from an inbound channel.
type Task struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	SourceType    TaskSource
	SourceID      string
	TaskType      string
	Urgency       Urgency
	TradeCategory string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	CustomerPLZ   string
	DistanceKM    *float64
	Subject       string
	Summary       string
	Status        TaskStatus

	AssignedDepartmentID *uuid.UUID
	AssignedWorkerID     *uuid.UUID
	AssignedAt           *time.Time
	AssignedBy           string
	RoutingPriority      int
	RoutingReason        string

	CreatedAt time.Time
	UpdatedAt time.Time
}
