package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS escalations (
	id                 TEXT PRIMARY KEY,
	conversation_id    TEXT NOT NULL,
	"trigger"          TEXT NOT NULL,
	priority           TEXT NOT NULL,
	status             TEXT NOT NULL,
	context            TEXT NOT NULL,
	triggered_at       INTEGER NOT NULL,
	notified_at        INTEGER,
	acknowledged_at    INTEGER,
	acknowledged_by    TEXT NOT NULL DEFAULT '',
	resolved_at        INTEGER,
	resolved_by        TEXT NOT NULL DEFAULT '',
	resolution         TEXT NOT NULL DEFAULT '',
	follow_up_required INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_escalations_conversation ON escalations (conversation_id);
CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations (status);
CREATE INDEX IF NOT EXISTS idx_escalations_trigger ON escalations ("trigger");
CREATE INDEX IF NOT EXISTS idx_escalations_triggered_at ON escalations (triggered_at);
`

// Repository is the durable, multi-index store of escalation events, backed
// by SQLite. Use ":memory:" as the path for tests.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the escalation database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, core.NewStorageError("open escalation db", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, core.NewStorageError("init escalation schema", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Insert persists a new escalation event.
func (r *Repository) Insert(ctx context.Context, ev *types.EscalationEvent) error {
	rawCtx, err := json.Marshal(ev.Context)
	if err != nil {
		return core.NewStorageError("encode escalation context", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO escalations (
			id, conversation_id, "trigger", priority, status, context,
			triggered_at, notified_at, acknowledged_at, acknowledged_by,
			resolved_at, resolved_by, resolution, follow_up_required
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ConversationID, string(ev.Trigger), string(ev.Priority),
		string(ev.Status), string(rawCtx), ev.TriggeredAt.UnixNano(),
		nullableNano(ev.NotifiedAt), nullableNano(ev.AcknowledgedAt), ev.AcknowledgedBy,
		nullableNano(ev.ResolvedAt), ev.ResolvedBy, ev.Resolution, boolInt(ev.FollowUpRequired))
	if err != nil {
		return core.NewStorageError("insert escalation", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing event.
func (r *Repository) Update(ctx context.Context, ev *types.EscalationEvent) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escalations SET
			status = ?, notified_at = ?, acknowledged_at = ?, acknowledged_by = ?,
			resolved_at = ?, resolved_by = ?, resolution = ?, follow_up_required = ?
		WHERE id = ?`,
		string(ev.Status), nullableNano(ev.NotifiedAt),
		nullableNano(ev.AcknowledgedAt), ev.AcknowledgedBy,
		nullableNano(ev.ResolvedAt), ev.ResolvedBy, ev.Resolution,
		boolInt(ev.FollowUpRequired), ev.ID)
	if err != nil {
		return core.NewStorageError("update escalation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError("escalation", ev.ID)
	}
	return nil
}

// Get loads a single event by id.
func (r *Repository) Get(ctx context.Context, id string) (*types.EscalationEvent, error) {
	rows, err := r.queryEvents(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.NewNotFoundError("escalation", id)
	}
	return rows[0], nil
}

// FindByConversationID returns every event for a conversation, oldest first.
func (r *Repository) FindByConversationID(ctx context.Context, conversationID string) ([]*types.EscalationEvent, error) {
	return r.queryEvents(ctx, `WHERE conversation_id = ? ORDER BY triggered_at`, conversationID)
}

// FindByStatus returns every event in the given status, oldest first.
func (r *Repository) FindByStatus(ctx context.Context, status types.EscalationStatus) ([]*types.EscalationEvent, error) {
	return r.queryEvents(ctx, `WHERE status = ? ORDER BY triggered_at`, string(status))
}

// FindByTrigger returns every event with the given trigger, oldest first.
func (r *Repository) FindByTrigger(ctx context.Context, trigger types.EscalationTrigger) ([]*types.EscalationEvent, error) {
	return r.queryEvents(ctx, `WHERE "trigger" = ? ORDER BY triggered_at`, string(trigger))
}

// FindByDateRange returns events triggered in [start, end), oldest first.
func (r *Repository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*types.EscalationEvent, error) {
	return r.queryEvents(ctx,
		`WHERE triggered_at >= ? AND triggered_at < ? ORDER BY triggered_at`,
		start.UnixNano(), end.UnixNano())
}

// Metrics aggregates counts by trigger/priority, mean time-to-acknowledge,
// mean time-to-resolve, and the abandonment rate over [start, end).
func (r *Repository) Metrics(ctx context.Context, start, end time.Time) (*types.EscalationMetrics, error) {
	events, err := r.FindByDateRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	m := &types.EscalationMetrics{
		Total:      len(events),
		ByTrigger:  make(map[types.EscalationTrigger]int),
		ByPriority: make(map[types.Priority]int),
	}
	var ackTotal, resolveTotal time.Duration
	var acked, resolved, abandoned int
	for _, ev := range events {
		m.ByTrigger[ev.Trigger]++
		m.ByPriority[ev.Priority]++
		if ev.AcknowledgedAt != nil {
			ackTotal += ev.AcknowledgedAt.Sub(ev.TriggeredAt)
			acked++
		}
		if ev.ResolvedAt != nil {
			resolveTotal += ev.ResolvedAt.Sub(ev.TriggeredAt)
			resolved++
		}
		if ev.Status == types.EscalationAbandoned {
			abandoned++
		}
	}
	if acked > 0 {
		m.MeanTimeToAck = ackTotal / time.Duration(acked)
	}
	if resolved > 0 {
		m.MeanTimeToResolve = resolveTotal / time.Duration(resolved)
	}
	if len(events) > 0 {
		m.AbandonmentRate = float64(abandoned) / float64(len(events))
	}
	return m, nil
}

// AbandonStale marks non-terminal events triggered before the cutoff as
// ABANDONED and returns how many were affected.
func (r *Repository) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escalations SET status = ?
		WHERE triggered_at < ? AND status NOT IN (?, ?)`,
		string(types.EscalationAbandoned), cutoff.UnixNano(),
		string(types.EscalationResolved), string(types.EscalationAbandoned))
	if err != nil {
		return 0, core.NewStorageError("abandon stale escalations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeTerminal deletes terminal events triggered before the cutoff and
// returns how many were removed.
func (r *Repository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM escalations
		WHERE triggered_at < ? AND status IN (?, ?)`,
		cutoff.UnixNano(),
		string(types.EscalationResolved), string(types.EscalationAbandoned))
	if err != nil {
		return 0, core.NewStorageError("purge terminal escalations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repository) queryEvents(ctx context.Context, where string, args ...any) ([]*types.EscalationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, "trigger", priority, status, context,
			triggered_at, notified_at, acknowledged_at, acknowledged_by,
			resolved_at, resolved_by, resolution, follow_up_required
		FROM escalations `+where, args...)
	if err != nil {
		return nil, core.NewStorageError("query escalations", err)
	}
	defer rows.Close()

	var events []*types.EscalationEvent
	for rows.Next() {
		var (
			ev                          types.EscalationEvent
			trigger, priority, status   string
			rawCtx                      string
			triggeredAt                 int64
			notified, acked, resolvedAt sql.NullInt64
			followUp                    int
		)
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &trigger, &priority,
			&status, &rawCtx, &triggeredAt, &notified, &acked, &ev.AcknowledgedBy,
			&resolvedAt, &ev.ResolvedBy, &ev.Resolution, &followUp); err != nil {
			return nil, core.NewStorageError("scan escalation", err)
		}
		ev.Trigger = types.EscalationTrigger(trigger)
		ev.Priority = types.Priority(priority)
		ev.Status = types.EscalationStatus(status)
		ev.TriggeredAt = time.Unix(0, triggeredAt)
		ev.NotifiedAt = nanoTime(notified)
		ev.AcknowledgedAt = nanoTime(acked)
		ev.ResolvedAt = nanoTime(resolvedAt)
		ev.FollowUpRequired = followUp != 0
		if err := json.Unmarshal([]byte(rawCtx), &ev.Context); err != nil {
			return nil, core.NewStorageError("decode escalation context", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("iterate escalations", err)
	}
	return events, nil
}

func nullableNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nanoTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
