// Package postgres persists evaluation records for the async pipeline.
//
// The single evaluations table is the only state the engine owns: id,
// status, the Evaluation JSON once completed, and an error message for
// failed jobs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skillsift/evalengine/internal/domain"
)

// PgxPool is the minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EvaluationRepo persists and loads evaluation records using a minimal pgx pool.
type EvaluationRepo struct{ Pool PgxPool }

// NewEvaluationRepo constructs an EvaluationRepo with the given pool.
func NewEvaluationRepo(p PgxPool) *EvaluationRepo { return &EvaluationRepo{Pool: p} }

// Create inserts a new record, normally in status queued.
func (r *EvaluationRepo) Create(ctx domain.Context, rec domain.EvaluationRecord) error {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "evaluations"),
	)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	q := `INSERT INTO evaluations (id, status, error, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.Pool.Exec(ctx, q, rec.ID, rec.Status, rec.Error, createdAt, updatedAt); err != nil {
		return fmt.Errorf("op=evaluation.create: %w", err)
	}
	return nil
}

// UpdateStatus moves a record to status with an optional error message. A
// nil errMsg maps to the empty string to satisfy the NOT NULL constraint.
func (r *EvaluationRepo) UpdateStatus(ctx domain.Context, id string, status domain.EvaluationStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "evaluations"),
	)
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE evaluations SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=evaluation.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=evaluation.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// SaveResult stores the completed Evaluation JSON and flips the record to
// completed in one statement.
func (r *EvaluationRepo) SaveResult(ctx domain.Context, id string, ev domain.Evaluation) error {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.SaveResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "evaluations"),
	)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=evaluation.save_result: %w", err)
	}
	q := `UPDATE evaluations SET status=$2, result=$3, error='', updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.EvaluationCompleted, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=evaluation.save_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=evaluation.save_result: %w", domain.ErrNotFound)
	}
	return nil
}

// Get loads a record by id.
func (r *EvaluationRepo) Get(ctx domain.Context, id string) (domain.EvaluationRecord, error) {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "evaluations"),
	)
	q := `SELECT id, status, COALESCE(error,''), result, created_at, updated_at FROM evaluations WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var rec domain.EvaluationRecord
	var result []byte
	if err := row.Scan(&rec.ID, &rec.Status, &rec.Error, &result, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EvaluationRecord{}, fmt.Errorf("op=evaluation.get: %w", domain.ErrNotFound)
		}
		return domain.EvaluationRecord{}, fmt.Errorf("op=evaluation.get: %w", err)
	}
	if len(result) > 0 {
		var ev domain.Evaluation
		if err := json.Unmarshal(result, &ev); err != nil {
			return domain.EvaluationRecord{}, fmt.Errorf("op=evaluation.get: decode result: %w", err)
		}
		rec.Result = &ev
	}
	return rec, nil
}

// FailStale marks queued and processing records untouched for longer than
// olderThan as failed, so a crashed worker cannot strand callers. It returns
// the number of records swept.
func (r *EvaluationRepo) FailStale(ctx domain.Context, olderThan time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.FailStale")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "evaluations"),
	)
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	msg := "timeout: evaluation exceeded " + olderThan.String()
	q := `UPDATE evaluations SET status=$1, error=$2, updated_at=$3
		WHERE (status=$4 AND created_at < $6) OR (status=$5 AND updated_at < $6)`
	tag, err := r.Pool.Exec(ctx, q, domain.EvaluationFailed, msg, now, domain.EvaluationQueued, domain.EvaluationProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=evaluation.fail_stale: %w", err)
	}
	return tag.RowsAffected(), nil
}
