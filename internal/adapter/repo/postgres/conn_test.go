package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPoolInvalidDSN(t *testing.T) {
	t.Parallel()
	_, err := NewPool(context.Background(), "://bad")
	assert.Error(t, err)
}
