package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/adapter/repo/postgres"
	"github.com/skillsift/evalengine/internal/domain"
)

// fakeRow implements pgx.Row.
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakePool implements postgres.PgxPool and records every statement.
type fakePool struct {
	execTag pgconn.CommandTag
	execErr error
	row     fakeRow

	sqls []string
	args [][]any
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.sqls = append(p.sqls, sql)
	p.args = append(p.args, args)
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}
	if p.execTag.String() == "" {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return p.execTag, nil
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.sqls = append(p.sqls, sql)
	p.args = append(p.args, args)
	if p.row.scan == nil {
		return fakeRow{scan: func(...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func TestEvaluationRepoCreate(t *testing.T) {
	t.Parallel()

	t.Run("inserts_queued_record", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{}
		repo := postgres.NewEvaluationRepo(pool)
		now := time.Now().UTC()

		rec := domain.EvaluationRecord{ID: "ev-1", Status: domain.EvaluationQueued, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, repo.Create(context.Background(), rec))

		require.Len(t, pool.args, 1)
		assert.Equal(t, "ev-1", pool.args[0][0])
		assert.Equal(t, domain.EvaluationQueued, pool.args[0][1])
		assert.Equal(t, now, pool.args[0][3])
	})

	t.Run("fills_missing_timestamps", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{}
		repo := postgres.NewEvaluationRepo(pool)

		require.NoError(t, repo.Create(context.Background(), domain.EvaluationRecord{ID: "ev-2", Status: domain.EvaluationQueued}))
		created, ok := pool.args[0][3].(time.Time)
		require.True(t, ok)
		assert.False(t, created.IsZero())
		assert.Equal(t, created, pool.args[0][4])
	})

	t.Run("wraps_db_error", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execErr: assert.AnError}
		repo := postgres.NewEvaluationRepo(pool)

		err := repo.Create(context.Background(), domain.EvaluationRecord{ID: "ev-3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=evaluation.create")
	})
}

func TestEvaluationRepoUpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("updates_status_and_error", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{}
		repo := postgres.NewEvaluationRepo(pool)

		msg := "broker unavailable"
		require.NoError(t, repo.UpdateStatus(context.Background(), "ev-1", domain.EvaluationFailed, &msg))
		assert.Equal(t, domain.EvaluationFailed, pool.args[0][1])
		assert.Equal(t, "broker unavailable", pool.args[0][2])
	})

	t.Run("nil_message_becomes_empty_string", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{}
		repo := postgres.NewEvaluationRepo(pool)

		require.NoError(t, repo.UpdateStatus(context.Background(), "ev-1", domain.EvaluationProcessing, nil))
		assert.Equal(t, "", pool.args[0][2])
	})

	t.Run("zero_rows_is_not_found", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
		repo := postgres.NewEvaluationRepo(pool)

		err := repo.UpdateStatus(context.Background(), "missing", domain.EvaluationProcessing, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestEvaluationRepoSaveResult(t *testing.T) {
	t.Parallel()

	t.Run("stores_result_json_and_completes", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{}
		repo := postgres.NewEvaluationRepo(pool)

		ev := domain.Evaluation{ID: "res-1", OverallScore: 78, ProviderUsed: "gemini"}
		require.NoError(t, repo.SaveResult(context.Background(), "ev-1", ev))

		assert.Equal(t, domain.EvaluationCompleted, pool.args[0][1])
		payload, ok := pool.args[0][2].([]byte)
		require.True(t, ok)
		var decoded domain.Evaluation
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, 78, decoded.OverallScore)
		assert.Equal(t, "gemini", decoded.ProviderUsed)
	})

	t.Run("zero_rows_is_not_found", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
		repo := postgres.NewEvaluationRepo(pool)

		err := repo.SaveResult(context.Background(), "missing", domain.Evaluation{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("wraps_db_error", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execErr: assert.AnError}
		repo := postgres.NewEvaluationRepo(pool)

		err := repo.SaveResult(context.Background(), "ev-1", domain.Evaluation{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=evaluation.save_result")
	})
}

func TestEvaluationRepoGet(t *testing.T) {
	t.Parallel()

	t.Run("loads_completed_record_with_result", func(t *testing.T) {
		t.Parallel()
		now := time.Now().UTC()
		result, err := json.Marshal(domain.Evaluation{ID: "res-1", OverallScore: 78})
		require.NoError(t, err)

		pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "ev-1"
			*(dest[1].(*domain.EvaluationStatus)) = domain.EvaluationCompleted
			*(dest[2].(*string)) = ""
			*(dest[3].(*[]byte)) = result
			*(dest[4].(*time.Time)) = now
			*(dest[5].(*time.Time)) = now
			return nil
		}}}
		repo := postgres.NewEvaluationRepo(pool)

		rec, err := repo.Get(context.Background(), "ev-1")
		require.NoError(t, err)
		assert.Equal(t, domain.EvaluationCompleted, rec.Status)
		require.NotNil(t, rec.Result)
		assert.Equal(t, 78, rec.Result.OverallScore)
	})

	t.Run("null_result_stays_nil", func(t *testing.T) {
		t.Parallel()
		now := time.Now().UTC()
		pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "ev-2"
			*(dest[1].(*domain.EvaluationStatus)) = domain.EvaluationQueued
			*(dest[4].(*time.Time)) = now
			*(dest[5].(*time.Time)) = now
			return nil
		}}}
		repo := postgres.NewEvaluationRepo(pool)

		rec, err := repo.Get(context.Background(), "ev-2")
		require.NoError(t, err)
		assert.Nil(t, rec.Result)
	})

	t.Run("no_rows_is_not_found", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}}
		repo := postgres.NewEvaluationRepo(pool)

		_, err := repo.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("corrupt_result_json_fails", func(t *testing.T) {
		t.Parallel()
		now := time.Now().UTC()
		pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "ev-3"
			*(dest[1].(*domain.EvaluationStatus)) = domain.EvaluationCompleted
			*(dest[3].(*[]byte)) = []byte("{not json")
			*(dest[4].(*time.Time)) = now
			*(dest[5].(*time.Time)) = now
			return nil
		}}}
		repo := postgres.NewEvaluationRepo(pool)

		_, err := repo.Get(context.Background(), "ev-3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode result")
	})
}

func TestEvaluationRepoFailStale(t *testing.T) {
	t.Parallel()

	t.Run("sweeps_and_reports_count", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 3")}
		repo := postgres.NewEvaluationRepo(pool)

		swept, err := repo.FailStale(context.Background(), 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(3), swept)

		assert.Equal(t, domain.EvaluationFailed, pool.args[0][0])
		assert.Contains(t, pool.args[0][1], "timeout: evaluation exceeded 5m0s")
		cutoff, ok := pool.args[0][5].(time.Time)
		require.True(t, ok)
		assert.True(t, cutoff.Before(time.Now()))
	})

	t.Run("wraps_db_error", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execErr: assert.AnError}
		repo := postgres.NewEvaluationRepo(pool)

		_, err := repo.FailStale(context.Background(), time.Minute)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=evaluation.fail_stale")
	})
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	t.Run("applies_schema", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{}
		require.NoError(t, postgres.EnsureSchema(context.Background(), pool))
		require.Len(t, pool.sqls, 1)
		assert.Contains(t, pool.sqls[0], "CREATE TABLE IF NOT EXISTS evaluations")
	})

	t.Run("wraps_db_error", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execErr: assert.AnError}
		err := postgres.EnsureSchema(context.Background(), pool)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=schema.ensure")
	})
}

func TestCleanupService(t *testing.T) {
	t.Parallel()

	t.Run("deletes_past_retention", func(t *testing.T) {
		t.Parallel()
		pool := &fakePool{execTag: pgconn.NewCommandTag("DELETE 7")}
		svc := postgres.NewCleanupService(pool, 30)

		require.NoError(t, svc.CleanupOldData(context.Background()))
		require.Len(t, pool.sqls, 1)
		assert.Contains(t, pool.sqls[0], "DELETE FROM evaluations")
		cutoff, ok := pool.args[0][0].(time.Time)
		require.True(t, ok)
		assert.True(t, cutoff.Before(time.Now().AddDate(0, 0, -29)))
	})

	t.Run("defaults_retention_when_unset", func(t *testing.T) {
		t.Parallel()
		svc := postgres.NewCleanupService(&fakePool{}, 0)
		assert.Equal(t, 90, svc.RetentionDays)
	})

	t.Run("wraps_db_error", func(t *testing.T) {
		t.Parallel()
		svc := postgres.NewCleanupService(&fakePool{execErr: assert.AnError}, 30)
		err := svc.CleanupOldData(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=evaluation.cleanup")
	})

	t.Run("periodic_stops_on_cancel", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc := postgres.NewCleanupService(&fakePool{}, 30)

		done := make(chan struct{})
		go func() {
			svc.RunPeriodic(ctx, time.Hour)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("RunPeriodic did not stop on cancel")
		}
	})
}
