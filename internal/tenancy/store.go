package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a tenant-scoped entity does not exist.
var ErrNotFound = errors.New("tenancy: not found")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists tenants, departments, workers, rules and tasks in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `
		SELECT id, subdomain, name, industry, status, created_at
		FROM tenants
		WHERE id = $1
	`
	var t Tenant
	err := s.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.Subdomain, &t.Name, &t.Industry, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenancy: get tenant: %w", err)
	}
	return &t, nil
}

// ResolveSubdomain looks up an active tenant by its subdomain.
func (s *Store) ResolveSubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	query := `
		SELECT id, subdomain, name, industry, status, created_at
		FROM tenants
		WHERE subdomain = $1 AND status = 'active'
	`
	var t Tenant
	err := s.pool.QueryRow(ctx, query, subdomain).Scan(&t.ID, &t.Subdomain, &t.Name, &t.Industry, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenancy: resolve subdomain: %w", err)
	}
	return &t, nil
}

func (s *Store) ListActiveRules(ctx context.Context, tenantID uuid.UUID) ([]RoutingRule, error) {
	query := `
		SELECT id, tenant_id, name, priority, active, conditions,
			route_to_department_id, route_to_worker_id, set_priority,
			escalate_after_minutes, send_notification, notification_channels
		FROM routing_rules
		WHERE tenant_id = $1 AND active
		ORDER BY priority ASC, name ASC
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list rules: %w", err)
	}
	defer rows.Close()
	var out []RoutingRule
	for rows.Next() {
		var r RoutingRule
		var conditions, channels []byte
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority, &r.Active, &conditions,
			&r.RouteToDepartmentID, &r.RouteToWorkerID, &r.SetPriority,
			&r.EscalateAfterMinutes, &r.SendNotification, &channels); err != nil {
			return nil, fmt.Errorf("tenancy: scan rule: %w", err)
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
				return nil, fmt.Errorf("tenancy: decode rule conditions: %w", err)
			}
		}
		if len(channels) > 0 {
			if err := json.Unmarshal(channels, &r.NotificationChannels); err != nil {
				return nil, fmt.Errorf("tenancy: decode rule channels: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveDepartments(ctx context.Context, tenantID uuid.UUID) ([]Department, error) {
	query := `
		SELECT id, tenant_id, name, handled_task_types, active
		FROM departments
		WHERE tenant_id = $1 AND active
		ORDER BY name ASC
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list departments: %w", err)
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		var d Department
		var types []byte
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &types, &d.Active); err != nil {
			return nil, fmt.Errorf("tenancy: scan department: %w", err)
		}
		if len(types) > 0 {
			if err := json.Unmarshal(types, &d.HandledTaskTypes); err != nil {
				return nil, fmt.Errorf("tenancy: decode handled task types: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListDepartmentWorkers(ctx context.Context, departmentID uuid.UUID) ([]Worker, error) {
	query := `
		SELECT id, tenant_id, department_id, name, phone, email, trade_categories,
			active, available, current_task_count, max_tasks_per_day
		FROM workers
		WHERE department_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, departmentID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list department workers: %w", err)
	}
	defer rows.Close()
	var out []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error) {
	query := `
		SELECT id, tenant_id, department_id, name, phone, email, trade_categories,
			active, available, current_task_count, max_tasks_per_day
		FROM workers
		WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, query, id)
	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return w, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (*Worker, error) {
	var w Worker
	var trades []byte
	if err := row.Scan(&w.ID, &w.TenantID, &w.DepartmentID, &w.Name, &w.Phone, &w.Email, &trades,
		&w.Active, &w.Available, &w.CurrentTaskCount, &w.MaxTasksPerDay); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("tenancy: scan worker: %w", err)
	}
	if len(trades) > 0 {
		if err := json.Unmarshal(trades, &w.TradeCategories); err != nil {
			return nil, fmt.Errorf("tenancy: decode trade categories: %w", err)
		}
	}
	return &w, nil
}

// InsertTask persists a new task. source_id is unique per tenant+source_type,
// so re-processing the same inbound message is a conflict, not a duplicate.
func (s *Store) InsertTask(ctx context.Context, q Querier, task *Task) error {
	if q == nil {
		q = s.pool
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = TaskNew
	}
	query := `
		INSERT INTO tasks (
			id, tenant_id, source_type, source_id, task_type, urgency,
			trade_category, customer_name, customer_phone, customer_email,
			customer_plz, distance_km, subject, summary, status,
			routing_priority, routing_reason
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (tenant_id, source_type, source_id) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, task.ID, task.TenantID, task.SourceType, task.SourceID,
		task.TaskType, task.Urgency, task.TradeCategory, task.CustomerName, task.CustomerPhone,
		task.CustomerEmail, task.CustomerPLZ, task.DistanceKM, task.Subject, task.Summary,
		task.Status, task.RoutingPriority, task.RoutingReason)
	if err != nil {
		return fmt.Errorf("tenancy: insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenancy: insert task: duplicate source %s/%s", task.SourceType, task.SourceID)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, tenantID, taskID uuid.UUID) (*Task, error) {
	query := `
		SELECT id, tenant_id, source_type, source_id, task_type, urgency,
			trade_category, customer_name, customer_phone, customer_email,
			customer_plz, distance_km, subject, summary, status,
			assigned_department_id, assigned_worker_id, assigned_at, assigned_by,
			routing_priority, routing_reason, created_at, updated_at
		FROM tasks
		WHERE tenant_id = $1 AND id = $2
	`
	var t Task
	err := s.pool.QueryRow(ctx, query, tenantID, taskID).Scan(
		&t.ID, &t.TenantID, &t.SourceType, &t.SourceID, &t.TaskType, &t.Urgency,
		&t.TradeCategory, &t.CustomerName, &t.CustomerPhone, &t.CustomerEmail,
		&t.CustomerPLZ, &t.DistanceKM, &t.Subject, &t.Summary, &t.Status,
		&t.AssignedDepartmentID, &t.AssignedWorkerID, &t.AssignedAt, &t.AssignedBy,
		&t.RoutingPriority, &t.RoutingReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenancy: get task: %w", err)
	}
	return &t, nil
}

// ApplyAssignment writes a routing decision and increments the chosen
// worker's counter in one transaction. Both writes commit or neither does.
func (s *Store) ApplyAssignment(ctx context.Context, task *Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tenancy: begin assignment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE tasks
		SET status = $2,
			assigned_department_id = $3,
			assigned_worker_id = $4,
			assigned_at = $5,
			assigned_by = $6,
			routing_priority = $7,
			routing_reason = $8,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, task.ID, task.Status, task.AssignedDepartmentID,
		task.AssignedWorkerID, task.AssignedAt, task.AssignedBy, task.RoutingPriority,
		task.RoutingReason); err != nil {
		return fmt.Errorf("tenancy: apply assignment: %w", err)
	}
	if task.AssignedWorkerID != nil {
		if err := bumpWorkerCount(ctx, tx, *task.AssignedWorkerID, +1); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tenancy: commit assignment: %w", err)
	}
	return nil
}

// ReassignTask moves a task to a new worker, decrementing the old worker's
// counter and incrementing the new one's atomically.
func (s *Store) ReassignTask(ctx context.Context, taskID uuid.UUID, newWorkerID uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tenancy: begin reassign: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldWorker *uuid.UUID
	// Row lock so concurrent reassignments of the same task serialize.
	if err := tx.QueryRow(ctx, `SELECT assigned_worker_id FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&oldWorker); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("tenancy: lock task for reassign: %w", err)
	}
	query := `
		UPDATE tasks
		SET assigned_worker_id = $2,
			assigned_at = now(),
			assigned_by = 'manual_reassign',
			status = 'assigned',
			routing_reason = $3,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, taskID, newWorkerID, reason); err != nil {
		return fmt.Errorf("tenancy: reassign task: %w", err)
	}
	if oldWorker != nil && *oldWorker != newWorkerID {
		if err := bumpWorkerCount(ctx, tx, *oldWorker, -1); err != nil {
			return err
		}
	}
	if oldWorker == nil || *oldWorker != newWorkerID {
		if err := bumpWorkerCount(ctx, tx, newWorkerID, +1); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tenancy: commit reassign: %w", err)
	}
	return nil
}

// CompleteTask marks a task terminal and releases its worker slot.
func (s *Store) CompleteTask(ctx context.Context, taskID uuid.UUID, status TaskStatus) error {
	if status != TaskDone && status != TaskCancelled {
		return fmt.Errorf("tenancy: complete task: %q is not terminal", status)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tenancy: begin complete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var worker *uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT assigned_worker_id FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&worker); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("tenancy: lock task for complete: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, taskID, status); err != nil {
		return fmt.Errorf("tenancy: complete task: %w", err)
	}
	if worker != nil {
		if err := bumpWorkerCount(ctx, tx, *worker, -1); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tenancy: commit complete: %w", err)
	}
	return nil
}

// UpdateTaskRouting rewrites routing_priority and routing_reason, used by
// escalation.
func (s *Store) UpdateTaskRouting(ctx context.Context, taskID uuid.UUID, priority int, reason string) error {
	query := `
		UPDATE tasks
		SET routing_priority = $2, routing_reason = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, taskID, priority, reason); err != nil {
		return fmt.Errorf("tenancy: update task routing: %w", err)
	}
	return nil
}

func bumpWorkerCount(ctx context.Context, q Querier, workerID uuid.UUID, delta int) error {
	query := `
		UPDATE workers
		SET current_task_count = GREATEST(current_task_count + $2, 0)
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, workerID, delta); err != nil {
		return fmt.Errorf("tenancy: bump worker count: %w", err)
	}
	return nil
}

func (s *Store) InsertWorker(ctx context.Context, q Querier, w *Worker) error {
	if q == nil {
		q = s.pool
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	trades, err := json.Marshal(w.TradeCategories)
	if err != nil {
		return fmt.Errorf("tenancy: marshal trade categories: %w", err)
	}
	query := `
		INSERT INTO workers (
			id, tenant_id, department_id, name, phone, email, trade_categories,
			active, available, current_task_count, max_tasks_per_day
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	if _, err := q.Exec(ctx, query, w.ID, w.TenantID, w.DepartmentID, w.Name, w.Phone, w.Email,
		trades, w.Active, w.Available, w.CurrentTaskCount, w.MaxTasksPerDay); err != nil {
		return fmt.Errorf("tenancy: insert worker: %w", err)
	}
	return nil
}

// StaleAssignments returns assigned tasks whose escalate_after window has
// elapsed without progress, for the escalation sweep.
func (s *Store) StaleAssignments(ctx context.Context, tenantID uuid.UUID, olderThan time.Time, limit int) ([]Task, error) {
	query := `
		SELECT id, tenant_id, source_type, source_id, task_type, urgency,
			trade_category, customer_name, customer_phone, customer_email,
			customer_plz, distance_km, subject, summary, status,
			assigned_department_id, assigned_worker_id, assigned_at, assigned_by,
			routing_priority, routing_reason, created_at, updated_at
		FROM tasks
		WHERE tenant_id = $1 AND status = 'assigned' AND assigned_at <= $2
		ORDER BY routing_priority ASC, assigned_at ASC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, tenantID, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("tenancy: stale assignments: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.TenantID, &t.SourceType, &t.SourceID, &t.TaskType, &t.Urgency,
			&t.TradeCategory, &t.CustomerName, &t.CustomerPhone, &t.CustomerEmail,
			&t.CustomerPLZ, &t.DistanceKM, &t.Subject, &t.Summary, &t.Status,
			&t.AssignedDepartmentID, &t.AssignedWorkerID, &t.AssignedAt, &t.AssignedBy,
			&t.RoutingPriority, &t.RoutingReason, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("tenancy: scan stale assignment: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
