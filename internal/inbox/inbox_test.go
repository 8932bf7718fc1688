package inbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInbox_SendReceive(t *testing.T) {
	ib := New[string](2, 10*time.Millisecond, testLogger())

	assert.True(t, ib.Send("a"))
	assert.True(t, ib.Send("b"))
	assert.Equal(t, 2, ib.GetStats().CurrentDepth)

	msg, ok := ib.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "a", msg)

	msg, ok = ib.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "b", msg)

	_, ok = ib.TryReceive()
	assert.False(t, ok)

	stats := ib.GetStats()
	assert.Equal(t, int64(2), stats.TotalSent)
	assert.Equal(t, int64(2), stats.TotalReceived)
	assert.Equal(t, 0, stats.CurrentDepth)
	assert.Equal(t, 2, stats.MaxDepthSeen)
}

func TestInbox_SendTimesOutWhenFull(t *testing.T) {
	ib := New[int](1, 5*time.Millisecond, testLogger())

	require.True(t, ib.Send(1))
	start := time.Now()
	assert.False(t, ib.Send(2))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	stats := ib.GetStats()
	assert.Equal(t, int64(1), stats.TotalSent)
	assert.Equal(t, int64(1), stats.RejectedCount)
}

func TestInbox_SendContextCancelled(t *testing.T) {
	ib := New[int](1, time.Hour, testLogger())
	require.True(t, ib.Send(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, ib.SendContext(ctx, 2))
	assert.Equal(t, int64(1), ib.GetStats().RejectedCount)
}

func TestInbox_SelectOnC(t *testing.T) {
	ib := New[string](1, time.Second, testLogger())
	require.True(t, ib.Send("manual"))

	select {
	case msg := <-ib.C():
		ib.MarkReceived()
		assert.Equal(t, "manual", msg)
	case <-time.After(time.Second):
		t.Fatal("expected a message")
	}

	assert.Equal(t, int64(1), ib.GetStats().TotalReceived)
}
