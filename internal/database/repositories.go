package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/pagination"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// TargetRepository handles target database operations
type TargetRepository struct {
	db *DB
}

// NewTargetRepository creates a new target repository
func NewTargetRepository(db *DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Create inserts a target and sets its ID and timestamps
func (r *TargetRepository) Create(ctx context.Context, target *types.Target) error {
	if strings.TrimSpace(target.Name) == "" || strings.TrimSpace(target.Address) == "" {
		return errors.NewValidationError("target name and address are required")
	}

	now := time.Now().UTC()
	target.CreatedAt = now
	target.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO targets (name, hostname, address, port, is_active, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.db.QueryRowxContext(ctx, query,
		target.Name, target.Hostname, target.Address, target.Port,
		target.IsActive, false, now, now,
	).Scan(&target.ID)
	if err != nil {
		return errors.NewInternalError("failed to create target").WithCause(err)
	}

	return nil
}

// Get retrieves a non-deleted target by ID
func (r *TargetRepository) Get(ctx context.Context, id int64) (*types.Target, error) {
	var target types.Target
	query := r.db.Rebind(`SELECT * FROM targets WHERE id = ? AND is_deleted = ?`)

	err := r.db.GetContext(ctx, &target, query, id, false)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("target")
		}
		return nil, errors.NewInternalError("failed to get target").WithCause(err)
	}

	return &target, nil
}

// ListActive returns active, non-deleted targets ordered by ID
func (r *TargetRepository) ListActive(ctx context.Context) ([]types.Target, error) {
	targets := []types.Target{}
	query := r.db.Rebind(`SELECT * FROM targets WHERE is_active = ? AND is_deleted = ? ORDER BY id`)

	if err := r.db.SelectContext(ctx, &targets, query, true, false); err != nil {
		return nil, errors.NewInternalError("failed to list active targets").WithCause(err)
	}

	return targets, nil
}

// SetActive toggles whether a target takes part in collection
func (r *TargetRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := r.db.Rebind(`UPDATE targets SET is_active = ?, updated_at = ? WHERE id = ? AND is_deleted = ?`)

	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id, false)
	if err != nil {
		return errors.NewInternalError("failed to update target").WithCause(err)
	}

	return requireRow(result, "target")
}

// SoftDelete marks a target deleted; its samples and alerts are kept
func (r *TargetRepository) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`
		UPDATE targets
		SET is_deleted = ?, is_active = ?, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = ?`)

	result, err := r.db.ExecContext(ctx, query, true, false, now, now, id, false)
	if err != nil {
		return errors.NewInternalError("failed to delete target").WithCause(err)
	}

	return requireRow(result, "target")
}

// PageSource exposes non-deleted targets to the pager
func (r *TargetRepository) PageSource() pagination.Source[types.Target] {
	return &sqlSource[types.Target]{
		db:    r.db,
		table: "targets",
		where: []string{"is_deleted = ?"},
		args:  []interface{}{false},
	}
}

// SampleRepository handles sample database operations
type SampleRepository struct {
	db *DB
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(db *DB) *SampleRepository {
	return &SampleRepository{db: db}
}

// Append inserts a sample and sets its ID. Samples are never updated.
func (r *SampleRepository) Append(ctx context.Context, sample *types.Sample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO samples (
			target_id, cpu_usage, memory_usage, disk_usage,
			network_inbound, network_outbound, response_time_ms, status, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.db.QueryRowxContext(ctx, query,
		sample.TargetID, sample.CPUUsage, sample.MemoryUsage, sample.DiskUsage,
		sample.NetworkInbound, sample.NetworkOutbound, sample.ResponseTimeMs,
		sample.Status, sample.Timestamp,
	).Scan(&sample.ID)
	if err != nil {
		return errors.NewInternalError("failed to append sample").WithCause(err)
	}

	return nil
}

// LatestByTarget returns the most recently inserted sample for a target.
// found is false when the target has no samples.
func (r *SampleRepository) LatestByTarget(ctx context.Context, targetID int64) (types.Sample, bool, error) {
	var sample types.Sample
	query := r.db.Rebind(`SELECT * FROM samples WHERE target_id = ? ORDER BY id DESC LIMIT 1`)

	err := r.db.GetContext(ctx, &sample, query, targetID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return types.Sample{}, false, nil
		}
		return types.Sample{}, false, errors.NewInternalError("failed to get latest sample").WithCause(err)
	}

	return sample, true, nil
}

// PageSource exposes one target's samples to the pager
func (r *SampleRepository) PageSource(targetID int64) pagination.Source[types.Sample] {
	return &sqlSource[types.Sample]{
		db:    r.db,
		table: "samples",
		where: []string{"target_id = ?"},
		args:  []interface{}{targetID},
	}
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	TargetID           *int64
	UnresolvedOnly     bool
	UnacknowledgedOnly bool
	MinSeverity        types.Severity
}

// AlertRepository handles alert database operations
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// UnresolvedByTargetAndKind returns the open alert for (target, kind), if any
func (r *AlertRepository) UnresolvedByTargetAndKind(ctx context.Context, targetID int64, kind types.AlertKind) (types.Alert, bool, error) {
	var alert types.Alert
	query := r.db.Rebind(`
		SELECT * FROM alerts
		WHERE target_id = ? AND kind = ? AND is_resolved = ?
		ORDER BY id DESC LIMIT 1`)

	err := r.db.GetContext(ctx, &alert, query, targetID, kind, false)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return types.Alert{}, false, nil
		}
		return types.Alert{}, false, errors.NewInternalError("failed to get unresolved alert").WithCause(err)
	}

	return alert, true, nil
}

// UnresolvedByTarget returns every open alert for a target
func (r *AlertRepository) UnresolvedByTarget(ctx context.Context, targetID int64) ([]types.Alert, error) {
	alerts := []types.Alert{}
	query := r.db.Rebind(`SELECT * FROM alerts WHERE target_id = ? AND is_resolved = ? ORDER BY id`)

	if err := r.db.SelectContext(ctx, &alerts, query, targetID, false); err != nil {
		return nil, errors.NewInternalError("failed to list unresolved alerts").WithCause(err)
	}

	return alerts, nil
}

// AppendBatch inserts alerts in one transaction and sets their IDs. A second
// open alert for the same (target, kind) fails the whole batch with a
// conflict error.
func (r *AlertRepository) AppendBatch(ctx context.Context, alerts []*types.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO alerts (
				target_id, kind, severity, title, message, threshold_value, actual_value,
				is_acknowledged, is_resolved, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)

		for _, alert := range alerts {
			if alert.CreatedAt.IsZero() {
				alert.CreatedAt = time.Now().UTC()
			}
			err := tx.QueryRowxContext(ctx, query,
				alert.TargetID, alert.Kind, alert.Severity, alert.Title, alert.Message,
				alert.ThresholdValue, alert.ActualValue, false, false, alert.CreatedAt,
			).Scan(&alert.ID)
			if err != nil {
				if isUniqueViolation(err) {
					return errors.NewConflictError(fmt.Sprintf(
						"unresolved %s alert already exists for target %d", alert.Kind, alert.TargetID))
				}
				return errors.NewInternalError("failed to insert alert").WithCause(err)
			}
		}
		return nil
	})
}

// Get retrieves an alert by ID
func (r *AlertRepository) Get(ctx context.Context, id int64) (*types.Alert, error) {
	return getAlert(ctx, r.db.DB, id)
}

// Acknowledge records who acknowledged an alert. Acknowledging twice is a
// no-op; a resolved alert cannot be acknowledged.
func (r *AlertRepository) Acknowledge(ctx context.Context, id int64, by string, at time.Time) (*types.Alert, error) {
	if strings.TrimSpace(by) == "" {
		return nil, errors.NewValidationError("acknowledged_by is required")
	}

	var out *types.Alert
	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		alert, err := getAlert(ctx, tx, id)
		if err != nil {
			return err
		}
		if alert.IsResolved {
			return errors.NewConflictError("alert is already resolved")
		}
		if alert.IsAcknowledged {
			out = alert
			return nil
		}

		at = at.UTC()
		query := tx.Rebind(`UPDATE alerts SET is_acknowledged = ?, acknowledged_by = ?, acknowledged_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, true, by, at, id); err != nil {
			return errors.NewInternalError("failed to acknowledge alert").WithCause(err)
		}

		alert.IsAcknowledged = true
		alert.AcknowledgedBy = &by
		alert.AcknowledgedAt = &at
		out = alert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve closes an alert, allowing a new one of the same kind to open
func (r *AlertRepository) Resolve(ctx context.Context, id int64, at time.Time) (*types.Alert, error) {
	var out *types.Alert
	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		alert, err := getAlert(ctx, tx, id)
		if err != nil {
			return err
		}
		if alert.IsResolved {
			return errors.NewConflictError("alert is already resolved")
		}

		at = at.UTC()
		query := tx.Rebind(`UPDATE alerts SET is_resolved = ?, resolved_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, true, at, id); err != nil {
			return errors.NewInternalError("failed to resolve alert").WithCause(err)
		}

		alert.IsResolved = true
		alert.ResolvedAt = &at
		out = alert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PageSource exposes filtered alerts to the pager
func (r *AlertRepository) PageSource(filter AlertFilter) pagination.Source[types.Alert] {
	src := &sqlSource[types.Alert]{db: r.db, table: "alerts"}
	if filter.TargetID != nil {
		src.where = append(src.where, "target_id = ?")
		src.args = append(src.args, *filter.TargetID)
	}
	if filter.UnresolvedOnly {
		src.where = append(src.where, "is_resolved = ?")
		src.args = append(src.args, false)
	}
	if filter.UnacknowledgedOnly {
		src.where = append(src.where, "is_acknowledged = ?")
		src.args = append(src.args, false)
	}
	if filter.MinSeverity > 0 {
		src.where = append(src.where, "severity >= ?")
		src.args = append(src.args, filter.MinSeverity)
	}
	return src
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getAlert(ctx context.Context, q queryer, id int64) (*types.Alert, error) {
	var alert types.Alert
	query := q.Rebind(`SELECT * FROM alerts WHERE id = ?`)

	if err := sqlx.GetContext(ctx, q, &alert, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("alert")
		}
		return nil, errors.NewInternalError("failed to get alert").WithCause(err)
	}

	return &alert, nil
}

// sqlSource answers keyset page queries against one table.
type sqlSource[T pagination.Keyed] struct {
	db    *DB
	table string
	where []string
	args  []interface{}
}

func (s *sqlSource[T]) Fetch(ctx context.Context, q pagination.Query) ([]T, error) {
	conds := append([]string{}, s.where...)
	args := append([]interface{}{}, s.args...)
	if q.AfterID != nil {
		conds = append(conds, "id > ?")
		args = append(args, *q.AfterID)
	}
	if q.BeforeID != nil {
		conds = append(conds, "id < ?")
		args = append(args, *q.BeforeID)
	}

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}

	query := "SELECT * FROM " + s.table + whereClause(conds) + " ORDER BY id " + order + " LIMIT ?"
	args = append(args, q.Limit)

	items := []T{}
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, errors.NewInternalError("failed to fetch " + s.table + " page").WithCause(err)
	}
	return items, nil
}

func (s *sqlSource[T]) Count(ctx context.Context) (int64, error) {
	var total int64
	query := "SELECT COUNT(*) FROM " + s.table + whereClause(s.where)
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(query), s.args...); err != nil {
		return 0, errors.NewInternalError("failed to count " + s.table).WithCause(err)
	}
	return total, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func requireRow(result sql.Result, resource string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError(resource)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
