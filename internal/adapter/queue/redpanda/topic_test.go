package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		topic       string
		partitions  int32
		replication int16
		wantErr     string
	}{
		{name: "empty_topic", topic: "", partitions: 1, replication: 1, wantErr: "topic name is empty"},
		{name: "zero_partitions", topic: TopicEvaluations, partitions: 0, replication: 1, wantErr: "partitions must be positive"},
		{name: "zero_replication", topic: TopicEvaluations, partitions: 3, replication: 0, wantErr: "replication factor must be positive"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := createTopicIfNotExists(context.Background(), nil, tc.topic, tc.partitions, tc.replication)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
