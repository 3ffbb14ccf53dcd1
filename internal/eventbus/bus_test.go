package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsHistoryNewestFirst(t *testing.T) {
	b := New(DefaultConfig(), nil)

	_, err := b.Publish(context.Background(), EventSystemStarted, "core", nil)
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), EventAgentStarted, "agent-1", nil)
	require.NoError(t, err)

	hist := b.GetHistory(10)
	require.Len(t, hist, 2)
	assert.Equal(t, EventAgentStarted, hist[0].Type)
	assert.Equal(t, EventSystemStarted, hist[1].Type)
}

func TestSubscribeBroadcastZeroSubscribersNoError(t *testing.T) {
	b := New(DefaultConfig(), nil)
	_, err := b.Publish(context.Background(), EventSystemStarted, "core", nil)
	require.NoError(t, err)
	assert.Len(t, b.GetHistory(10), 1)
}

func TestSubscribeReceivesSubsequentEvents(t *testing.T) {
	b := New(DefaultConfig(), nil)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	_, err := b.Publish(context.Background(), EventTaskSubmitted, "task-1", nil)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, EventTaskSubmitted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestHandlerFanOutDoesNotBlockOnError(t *testing.T) {
	b := New(DefaultConfig(), nil)

	var mu sync.Mutex
	var calls []string
	var wg sync.WaitGroup
	wg.Add(2)

	b.RegisterHandler(HandlerFunc{
		HandlerID: "failing",
		Events:    []EventType{EventTaskFailed},
		Fn: func(ctx context.Context, e *Event) error {
			defer wg.Done()
			mu.Lock()
			calls = append(calls, "failing")
			mu.Unlock()
			return assertError("boom")
		},
	})
	b.RegisterHandler(HandlerFunc{
		HandlerID: "ok",
		Events:    []EventType{EventTaskFailed},
		Fn: func(ctx context.Context, e *Event) error {
			defer wg.Done()
			mu.Lock()
			calls = append(calls, "ok")
			mu.Unlock()
			return nil
		},
	})

	_, err := b.Publish(context.Background(), EventTaskFailed, "task-1", nil)
	require.NoError(t, err)

	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, calls, 2)
}

func TestStatsReflectActivity(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RegisterHandler(HandlerFunc{HandlerID: "h", Events: []EventType{EventSystemStarted}, Fn: func(ctx context.Context, e *Event) error { return nil }})
	_, unsubscribe := b.Subscribe()
	defer unsubscribe()

	_, err := b.Publish(context.Background(), EventSystemStarted, "core", nil)
	require.NoError(t, err)

	stats := b.Stats()
	assert.EqualValues(t, 1, stats.TotalPublished)
	assert.Equal(t, 1, stats.HistorySize)
	assert.Equal(t, 1, stats.Subscribers)
	assert.Equal(t, 1, stats.HandlerCount)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for handlers")
	}
}
