package delay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules/delay"
)

func handler(t *testing.T) *registry.Handler {
	t.Helper()
	r := registry.New()
	delay.Register(r)
	h, ok := r.Handler("delay")
	require.True(t, ok)
	return h
}

func TestDelayWaits(t *testing.T) {
	t.Parallel()
	start := time.Now()
	out, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "wait",
		Config: map[string]cty.Value{"duration": cty.StringVal("30ms")},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, out["done"].True())
}

func TestDelayHonorsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := handler(t).Run(ctx, &registry.Call{
		NodeID: "wait",
		Config: map[string]cty.Value{"duration": cty.StringVal("5s")},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDelayRejectsBadDuration(t *testing.T) {
	t.Parallel()
	_, err := handler(t).Run(context.Background(), &registry.Call{
		NodeID: "wait",
		Config: map[string]cty.Value{"duration": cty.StringVal("soon")},
	})
	require.ErrorContains(t, err, "invalid duration")
}
