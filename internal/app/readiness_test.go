package app

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestBuildReadinessChecks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil_dependencies_report_not_configured", func(t *testing.T) {
		t.Parallel()
		db, rd, broker := BuildReadinessChecks(nil, nil, nil)
		assert.ErrorContains(t, db(ctx), "not configured")
		assert.ErrorContains(t, rd(ctx), "not configured")
		assert.ErrorContains(t, broker(ctx), "not configured")
	})

	t.Run("propagates_probe_results", func(t *testing.T) {
		t.Parallel()
		db, _, broker := BuildReadinessChecks(fakePinger{}, nil, fakePinger{err: errors.New("no brokers")})
		assert.NoError(t, db(ctx))
		assert.ErrorContains(t, broker(ctx), "no brokers")
	})

	t.Run("pings_redis", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		_, rd, _ := BuildReadinessChecks(nil, rdb, nil)
		require.NoError(t, rd(ctx))

		mr.Close()
		assert.Error(t, rd(ctx))
	})
}
