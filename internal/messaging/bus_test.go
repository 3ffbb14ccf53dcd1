package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendExpiredMessageIsHardError(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	past := time.Now().Add(-time.Minute)
	m := NewMessage(TypeTaskRequest, "sender", nil).WithExpiresAt(past)

	err := b.Send(m)
	require.Error(t, err)
}

func TestReceivePreservesFIFOPerReceiver(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	for i := 0; i < 3; i++ {
		m := NewMessage(TypeStatusUpdate, "sender", i).WithReceiver("agent-1").WithPriority(PriorityUrgent)
		require.NoError(t, b.Send(m))
	}
	// A low priority message sent after still arrives last: priority is
	// advisory only, the bus preserves send order.
	low := NewMessage(TypeStatusUpdate, "sender", 3).WithReceiver("agent-1").WithPriority(PriorityLow)
	require.NoError(t, b.Send(low))

	for i := 0; i < 4; i++ {
		m, ok := b.Receive("agent-1")
		require.True(t, ok)
		assert.Equal(t, i, m.Payload)
	}
	_, ok := b.Receive("agent-1")
	assert.False(t, ok)
}

func TestReceiveSkipsExpiredHeadsTransparently(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	soon := time.Now().Add(20 * time.Millisecond)
	expiring := NewMessage(TypeHeartbeat, "sender", "expiring").WithReceiver("r").WithExpiresAt(soon)
	require.NoError(t, b.Send(expiring))

	fresh := NewMessage(TypeHeartbeat, "sender", "fresh").WithReceiver("r")
	require.NoError(t, b.Send(fresh))

	time.Sleep(40 * time.Millisecond)

	m, ok := b.Receive("r")
	require.True(t, ok)
	assert.Equal(t, "fresh", m.Payload)
}

func TestReceiveFromUnknownReceiverIsEmptyNotError(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	_, ok := b.Receive("nobody-sent-here")
	assert.False(t, ok)
}

func TestAcknowledgeIsIdempotentFirstWins(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	m := NewMessage(TypeTaskRequest, "sender", nil).WithRequiresAck(true)
	m.ID = "msg-1"
	require.NoError(t, b.Send(m))

	b.Acknowledge("msg-1", "acker-a", true, "")
	b.Acknowledge("msg-1", "acker-b", false, "too late")

	ack, ok := b.GetAck("msg-1")
	require.True(t, ok)
	assert.Equal(t, "acker-a", ack.AcknowledgerID)
	assert.True(t, ack.Success)

	stats := b.Stats()
	assert.Equal(t, 0, stats.PendingAcks)
}

func TestAcknowledgeUnknownMessageIsNoOp(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	b.Acknowledge("ghost", "acker", true, "")
	_, ok := b.GetAck("ghost")
	assert.False(t, ok, "an ack for an untracked message id is accepted but leaves no record")
}

func TestWaitForAckTimesOutThenCleansPendingAcks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckTimeout = 50 * time.Millisecond
	cfg.ExpirationCheckInterval = 20 * time.Millisecond
	b := New(cfg, nil)
	defer b.Close()

	m := NewMessage(TypeTaskRequest, "sender", nil).WithRequiresAck(true)
	m.ID = "msg-timeout"
	require.NoError(t, b.Send(m))

	start := time.Now()
	_, err := b.WaitForAck(context.Background(), "msg-timeout", 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)

	require.Eventually(t, func() bool {
		return b.Stats().PendingAcks == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastZeroSubscribersRecordsHistory(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	m := NewMessage(TypeHeartbeat, "sender", nil)
	require.NoError(t, b.Send(m))

	hist := b.GetHistory(10)
	require.Len(t, hist, 1)
}

func TestSubscribeLateSubscriberMissesEarlierFrames(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	require.NoError(t, b.Send(NewMessage(TypeHeartbeat, "sender", "before")))

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	require.NoError(t, b.Send(NewMessage(TypeHeartbeat, "sender", "after")))

	select {
	case m := <-ch:
		assert.Equal(t, "after", m.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
}

func TestHistoryReturnsReverseChronological(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Send(NewMessage(TypeHeartbeat, "sender", i)))
	}

	hist := b.GetHistory(2)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Payload)
	assert.Equal(t, 1, hist[1].Payload)
}
