package recorder_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/opcflow/internal/controller"
	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/recorder"
)

func TestOpenRejectsEmptyDSN(t *testing.T) {
	t.Parallel()
	_, err := recorder.Open("")
	require.Error(t, err)
}

func TestNodeEventRecordMapping(t *testing.T) {
	t.Parallel()
	at := time.Now()
	rec := recorder.NodeEventRecord("run-1", controller.Event{
		Kind:     controller.NodeFinished,
		Node:     "read_temp",
		NodeType: "opcua_read",
		Status:   graph.StatusFailed,
		Attempt:  3,
		Duration: 250 * time.Millisecond,
		Err:      errors.New("write rejected"),
		Time:     at,
	})

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "read_temp", rec.Node)
	assert.Equal(t, "opcua_read", rec.Type)
	assert.Equal(t, "failed", rec.Status)
	assert.Equal(t, 3, rec.Attempt)
	assert.Equal(t, 250*time.Millisecond, rec.Duration)
	assert.Equal(t, "write rejected", rec.Error)
	assert.Equal(t, at, rec.FinishedAt)
}
