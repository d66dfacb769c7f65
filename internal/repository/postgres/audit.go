package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
)

// insertChunk keeps each multi-row insert under the postgres parameter limit.
const insertChunk = 1000

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

const auditColumns = `id, timestamp, event_type, risk_level, user_id, session_id, ip_address, user_agent,
	request_id, correlation_id, outcome, resource, resource_id, action, details, metadata`

// AppendBatch writes the whole batch in one transaction: either every event
// lands or none does, so the caller can safely re-queue on error.
func (r *auditRepository) AppendBatch(ctx context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO audit_events (` + auditColumns + `)
		VALUES (:id, :timestamp, :event_type, :risk_level, :user_id, :session_id, :ip_address, :user_agent,
			:request_id, :correlation_id, :outcome, :resource, :resource_id, :action, :details, :metadata)
	`

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(events); start += insertChunk {
			end := start + insertChunk
			if end > len(events) {
				end = len(events)
			}
			if _, err := tx.NamedExecContext(ctx, query, events[start:end]); err != nil {
				return fmt.Errorf("failed to insert audit events: %w", err)
			}
		}
		return nil
	})
}

func buildAuditWhere(filter model.AuditFilter) *whereBuilder {
	w := &whereBuilder{}
	if filter.From != nil {
		w.add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("timestamp <= $%d", *filter.To)
	}
	if filter.UserID != nil {
		w.add("user_id = $%d", *filter.UserID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		w.add("event_type = ANY($%d)", pq.Array(types))
	}
	if filter.MinRisk != "" {
		var levels []string
		for _, lvl := range []model.RiskLevel{model.RiskLow, model.RiskMedium, model.RiskHigh, model.RiskCritical} {
			if lvl.AtLeast(filter.MinRisk) {
				levels = append(levels, string(lvl))
			}
		}
		w.add("risk_level = ANY($%d)", pq.Array(levels))
	}
	if filter.Outcome != "" {
		w.add("outcome = $%d", filter.Outcome)
	}
	if filter.Resource != "" {
		w.add("resource = $%d", filter.Resource)
	}
	if filter.ResourceID != "" {
		w.add("resource_id = $%d", filter.ResourceID)
	}
	return w
}

func (r *auditRepository) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, int64, error) {
	w := buildAuditWhere(filter)

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_events "+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	limit, offset := filter.LimitOffset()
	limitArg := w.next()
	args := append(append([]interface{}{}, w.args...), limit)
	offsetArg := fmt.Sprintf("$%d", len(args)+1)
	args = append(args, offset)

	query := "SELECT " + auditColumns + " FROM audit_events " + w.String() +
		" ORDER BY timestamp DESC, id LIMIT " + limitArg + " OFFSET " + offsetArg

	events := []model.AuditEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit events: %w", err)
	}

	return events, total, nil
}

func (r *auditRepository) Summarize(ctx context.Context, filter model.AuditFilter) (*model.AuditSummary, error) {
	w := buildAuditWhere(filter)
	where := w.String()
	summary := model.NewAuditSummary()

	var totals struct {
		Total        int64        `db:"total"`
		UniqueActors int64        `db:"unique_actors"`
		First        sql.NullTime `db:"first"`
		Last         sql.NullTime `db:"last"`
	}
	totalsQuery := `
		SELECT COUNT(*) AS total, COUNT(DISTINCT user_id) AS unique_actors,
			MIN(timestamp) AS first, MAX(timestamp) AS last
		FROM audit_events ` + where
	if err := r.db.GetContext(ctx, &totals, totalsQuery, w.args...); err != nil {
		return nil, fmt.Errorf("failed to summarize audit events: %w", err)
	}
	summary.Total = totals.Total
	summary.UniqueActors = totals.UniqueActors
	if totals.First.Valid {
		summary.First = &totals.First.Time
	}
	if totals.Last.Valid {
		summary.Last = &totals.Last.Time
	}

	groups := []struct {
		column string
		put    func(key string, count int64)
	}{
		{"event_type", func(k string, c int64) { summary.ByType[model.AuditEventType(k)] = c }},
		{"risk_level", func(k string, c int64) { summary.ByRisk[model.RiskLevel(k)] = c }},
		{"outcome", func(k string, c int64) { summary.ByOutcome[model.AuditOutcome(k)] = c }},
	}
	for _, g := range groups {
		query := "SELECT " + g.column + ", COUNT(*) FROM audit_events " + where + " GROUP BY " + g.column
		if err := r.countBy(ctx, query, w.args, g.put); err != nil {
			return nil, fmt.Errorf("failed to count by %s: %w", g.column, err)
		}
	}

	return summary, nil
}

func (r *auditRepository) countBy(ctx context.Context, query string, args []interface{}, put func(string, int64)) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		put(key, count)
	}
	return rows.Err()
}

func (r *auditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return result.RowsAffected()
}
