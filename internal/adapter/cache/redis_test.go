package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/domain"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)

		_, ok, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)

		ev := domain.Evaluation{
			ID:           "ev1",
			OverallScore: 78,
			SectionScores: map[domain.Section]int{
				domain.SectionSkills: 80,
			},
			ProviderUsed: "openai",
			ModelUsed:    "gpt-4o-mini",
			CreatedAt:    time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, c.Set(ctx, "k1", ev))

		got, ok, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ev.OverallScore, got.OverallScore)
		assert.Equal(t, ev.ProviderUsed, got.ProviderUsed)
		assert.Equal(t, 80, got.SectionScores[domain.SectionSkills])
	})

	t.Run("entries_expire", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

		require.NoError(t, c.Set(ctx, "k1", domain.Evaluation{ID: "ev1"}))
		mr.FastForward(2 * time.Minute)

		_, ok, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("get_error_when_down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
		mr.Close()

		_, ok, err := c.Get(ctx, "k1")
		assert.Error(t, err)
		assert.False(t, ok)
	})
}
