package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

// ErrChainCorrupt is returned when verification finds a tamper signal.
var ErrChainCorrupt = errors.New("audit: chain corrupt")

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Logger appends to and verifies the per-tenant audit chain. Appends
// serialize through a per-tenant mutex held across the previous-checksum
// read and the insert; this is the one place a lock spans a query, and
// the query is bounded.
type Logger struct {
	pool PgxPool
	clk  clock.Clock

	mu      sync.Mutex
	tenants map[uuid.UUID]*sync.Mutex
}

func NewLogger(pool PgxPool, clk clock.Clock) *Logger {
	if clk == nil {
		clk = clock.System{}
	}
	return &Logger{
		pool:    pool,
		clk:     clk,
		tenants: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (l *Logger) tenantLock(tenantID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.tenants[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.tenants[tenantID] = m
	}
	return m
}

// Append writes one entry to the tenant's chain and returns it with seq
// and checksums filled in.
func (l *Logger) Append(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.TenantID == uuid.Nil {
		return nil, fmt.Errorf("audit: append: missing tenant id")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clk.Now()
	}
	// Store exactly what the checksum covers; postgres would otherwise
	// round the fractional seconds on insert.
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)
	if entry.ActorType == "" {
		entry.ActorType = "system"
	}
	if entry.Details == nil {
		entry.Details = json.RawMessage("{}")
	}

	lock := l.tenantLock(entry.TenantID)
	lock.Lock()
	defer lock.Unlock()

	var prev string
	err := l.pool.QueryRow(ctx,
		`SELECT checksum FROM audit_entries WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`,
		entry.TenantID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("audit: read previous checksum: %w", err)
	}
	entry.PreviousChecksum = prev
	entry.Checksum = entry.checksum()

	query := `
		INSERT INTO audit_entries (
			id, tenant_id, timestamp, action, actor_id, actor_type,
			resource_type, resource_id, subject_id, details,
			previous_checksum, checksum
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq
	`
	if err := l.pool.QueryRow(ctx, query, entry.ID, entry.TenantID, entry.Timestamp,
		entry.Action, entry.ActorID, entry.ActorType, entry.ResourceType, entry.ResourceID,
		entry.SubjectID, entry.Details, entry.PreviousChecksum, entry.Checksum).Scan(&entry.Seq); err != nil {
		return nil, fmt.Errorf("audit: append entry: %w", err)
	}
	return &entry, nil
}

// BrokenLink describes one chain discontinuity found during verification.
type BrokenLink struct {
	EntryID      uuid.UUID
	ExpectedPrev string
	ActualPrev   string
}

// Report is the outcome of a chain verification.
type Report struct {
	Verified       bool
	EntriesChecked int
	InvalidEntries []uuid.UUID
	BrokenChains   []BrokenLink
}

// Verify walks the tenant's chain forward and recomputes every checksum.
// An entry whose stored checksum does not match its recomputation is
// invalid; a successor whose previous_checksum does not match the
// predecessor's recomputed checksum is a broken link.
func (l *Logger) Verify(ctx context.Context, tenantID uuid.UUID) (*Report, error) {
	entries, err := l.chain(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries), nil
}

func verifyEntries(entries []Entry) *Report {
	report := &Report{Verified: true, EntriesChecked: len(entries)}
	prevRecomputed := ""
	for i, e := range entries {
		recomputed := e.checksum()
		if recomputed != e.Checksum {
			report.Verified = false
			report.InvalidEntries = append(report.InvalidEntries, e.ID)
		}
		if i > 0 && e.PreviousChecksum != prevRecomputed {
			report.Verified = false
			report.BrokenChains = append(report.BrokenChains, BrokenLink{
				EntryID:      e.ID,
				ExpectedPrev: prevRecomputed,
				ActualPrev:   e.PreviousChecksum,
			})
		}
		prevRecomputed = recomputed
	}
	return report
}

func (l *Logger) chain(ctx context.Context, tenantID uuid.UUID) ([]Entry, error) {
	query := `
		SELECT id, tenant_id, seq, timestamp, action, actor_id, actor_type,
			resource_type, resource_id, subject_id, details,
			COALESCE(previous_checksum, ''), checksum
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY seq ASC
	`
	rows, err := l.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("audit: load chain: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Seq, &e.Timestamp, &e.Action, &e.ActorID,
			&e.ActorType, &e.ResourceType, &e.ResourceID, &e.SubjectID, &e.Details,
			&e.PreviousChecksum, &e.Checksum); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Filter narrows a query over the chain.
type Filter struct {
	Action    Action
	SubjectID *uuid.UUID
	ActorID   string
	Start     time.Time
	End       time.Time
	Limit     int
	Offset    int
}

// Query retrieves entries newest first with the given filters.
func (l *Logger) Query(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, tenant_id, seq, timestamp, action, actor_id, actor_type,
			resource_type, resource_id, subject_id, details,
			COALESCE(previous_checksum, ''), checksum
		FROM audit_entries
		WHERE tenant_id = $1
	`
	args := []any{tenantID}
	argIdx := 2

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.SubjectID != nil {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, *filter.SubjectID)
		argIdx++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if !filter.Start.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, filter.Start)
		argIdx++
	}
	if !filter.End.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, filter.End)
		argIdx++
	}

	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Seq, &e.Timestamp, &e.Action, &e.ActorID,
			&e.ActorType, &e.ResourceType, &e.ResourceID, &e.SubjectID, &e.Details,
			&e.PreviousChecksum, &e.Checksum); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SubjectAccessLog returns every access entry touching one patient, for
// data-subject requests (Art. 15 DSGVO).
func (l *Logger) SubjectAccessLog(ctx context.Context, tenantID, subjectID uuid.UUID, limit int) ([]Entry, error) {
	return l.Query(ctx, tenantID, Filter{SubjectID: &subjectID, Limit: limit})
}

// Export renders filtered entries as "json" or "csv".
func (l *Logger) Export(ctx context.Context, tenantID uuid.UUID, filter Filter, format string) ([]byte, error) {
	entries, err := l.Query(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", "json":
		type exported struct {
			ID               uuid.UUID       `json:"id"`
			Timestamp        time.Time       `json:"timestamp"`
			Action           Action          `json:"action"`
			ActorID          string          `json:"actor_id"`
			ActorType        string          `json:"actor_type"`
			ResourceType     string          `json:"resource_type"`
			ResourceID       string          `json:"resource_id,omitempty"`
			SubjectID        *uuid.UUID      `json:"subject_id,omitempty"`
			Details          json.RawMessage `json:"details,omitempty"`
			PreviousChecksum string          `json:"previous_checksum,omitempty"`
			Checksum         string          `json:"checksum"`
		}
		out := make([]exported, len(entries))
		for i, e := range entries {
			out[i] = exported{
				ID: e.ID, Timestamp: e.Timestamp, Action: e.Action,
				ActorID: e.ActorID, ActorType: e.ActorType,
				ResourceType: e.ResourceType, ResourceID: e.ResourceID,
				SubjectID: e.SubjectID, Details: e.Details,
				PreviousChecksum: e.PreviousChecksum, Checksum: e.Checksum,
			}
		}
		return json.MarshalIndent(out, "", "  ")
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"seq", "id", "timestamp", "action", "actor_id", "actor_type", "resource_type", "resource_id", "checksum"})
		for _, e := range entries {
			_ = w.Write([]string{
				strconv.FormatInt(e.Seq, 10), e.ID.String(), e.Timestamp.Format(time.RFC3339),
				string(e.Action), e.ActorID, e.ActorType, e.ResourceType, e.ResourceID, e.Checksum,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("audit: export csv: %w", err)
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("audit: export: unsupported format %q", format)
	}
}
