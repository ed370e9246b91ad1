package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chamikara/helachat/internal/agent"
	"github.com/chamikara/helachat/internal/data"
)

type fakeResponder struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   *agent.Result
}

func (f *fakeResponder) ProcessMessage(ctx context.Context, text string, businessID int64, senderPhone string) (*agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("pipeline error")
	}
	if f.result != nil {
		return f.result, nil
	}
	return &agent.Result{Response: "reply", Language: "en", Confidence: 85, ProcessingTime: 10}, nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("graph api unavailable")
	}
	f.sent = append(f.sent, body)
	return "wamid.out", nil
}

type fakeMessageStore struct {
	mu         sync.Mutex
	statuses   map[int64]string
	outbound   []*data.Message
	responded  chan int64
	failed     chan int64
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		statuses:  make(map[int64]string),
		responded: make(chan int64, 16),
		failed:    make(chan int64, 16),
	}
}

func (f *fakeMessageStore) MarkMessageProcessing(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = data.StatusProcessing
	return nil
}

func (f *fakeMessageStore) MarkMessageResponded(ctx context.Context, id int64, aiResponse, language string, confidence int, processingTimeMs int64) error {
	f.mu.Lock()
	f.statuses[id] = data.StatusResponded
	f.mu.Unlock()
	f.responded <- id
	return nil
}

func (f *fakeMessageStore) MarkMessageFailed(ctx context.Context, id int64, reason string) error {
	f.mu.Lock()
	f.statuses[id] = data.StatusFailed
	f.mu.Unlock()
	f.failed <- id
	return nil
}

func (f *fakeMessageStore) CreateMessage(ctx context.Context, m *data.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, m)
	return int64(len(f.outbound)), nil
}

func (f *fakeMessageStore) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeRebuilder struct {
	calls atomic.Int32
	done  chan int64
}

func (f *fakeRebuilder) Rebuild(ctx context.Context, businessID int64) (int, error) {
	f.calls.Add(1)
	if f.done != nil {
		f.done <- businessID
	}
	return 7, nil
}

func testConfig() Config {
	return Config{Workers: 2, QueueSize: 8, MaxRetries: 3, RetryBase: time.Millisecond}
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop() })
}

func TestDispatcherProcessesMessage(t *testing.T) {
	responder := &fakeResponder{}
	sender := &fakeSender{}
	store := newFakeMessageStore()

	d := New(testConfig(), responder, sender, store, &fakeRebuilder{}, nil)
	startDispatcher(t, d)

	require.NoError(t, d.Enqueue(Task{MessageID: 1, BusinessID: 1, Content: "hello", SenderPhone: "+94770000001"}))

	select {
	case <-store.responded:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message to be responded")
	}

	assert.Equal(t, data.StatusResponded, store.status(1))
	assert.Equal(t, []string{"reply"}, sender.sent)

	require.Len(t, store.outbound, 1)
	out := store.outbound[0]
	assert.Equal(t, data.DirectionOutbound, out.Direction)
	assert.Equal(t, "wamid.out", out.WhatsAppMessageID)
	assert.Equal(t, "+94770000001", out.RecipientPhone)
}

func TestRetryThenSuccess(t *testing.T) {
	responder := &fakeResponder{failures: 2}
	store := newFakeMessageStore()

	d := New(testConfig(), responder, &fakeSender{}, store, &fakeRebuilder{}, nil)
	startDispatcher(t, d)

	require.NoError(t, d.Enqueue(Task{MessageID: 5, BusinessID: 1, Content: "hi", SenderPhone: "+94"}))

	select {
	case <-store.responded:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for retries to succeed")
	}

	assert.Equal(t, 3, responder.callCount())
	assert.Equal(t, data.StatusResponded, store.status(5))
}

func TestExhaustedRetriesMarkFailed(t *testing.T) {
	responder := &fakeResponder{failures: 100}
	store := newFakeMessageStore()

	cfg := testConfig()
	cfg.MaxRetries = 2

	d := New(cfg, responder, &fakeSender{}, store, &fakeRebuilder{}, nil)
	startDispatcher(t, d)

	require.NoError(t, d.Enqueue(Task{MessageID: 9, BusinessID: 1, Content: "hi", SenderPhone: "+94"}))

	select {
	case <-store.failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for permanent failure")
	}

	// Initial attempt plus two retries.
	assert.Equal(t, 3, responder.callCount())
	assert.Equal(t, data.StatusFailed, store.status(9))
}

func TestSendFailureRetries(t *testing.T) {
	store := newFakeMessageStore()
	sender := &fakeSender{fail: true}

	cfg := testConfig()
	cfg.MaxRetries = 1

	d := New(cfg, &fakeResponder{}, sender, store, &fakeRebuilder{}, nil)
	startDispatcher(t, d)

	require.NoError(t, d.Enqueue(Task{MessageID: 3, BusinessID: 1, Content: "hi", SenderPhone: "+94"}))

	select {
	case <-store.failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for failure")
	}

	assert.Equal(t, data.StatusFailed, store.status(3))
	assert.Empty(t, store.outbound, "no outbound record when send never succeeded")
}

func TestEnqueueFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1

	// Not started, so the queue never drains.
	d := New(cfg, &fakeResponder{}, &fakeSender{}, newFakeMessageStore(), &fakeRebuilder{}, nil)

	require.NoError(t, d.Enqueue(Task{MessageID: 1}))

	err := d.Enqueue(Task{MessageID: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, d.QueueDepth())
}

func TestRebuildTask(t *testing.T) {
	rebuilder := &fakeRebuilder{done: make(chan int64, 1)}

	d := New(testConfig(), &fakeResponder{}, &fakeSender{}, newFakeMessageStore(), rebuilder, nil)
	startDispatcher(t, d)

	require.NoError(t, d.EnqueueRebuild(42))

	select {
	case id := <-rebuilder.done:
		assert.Equal(t, int64(42), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for rebuild")
	}
}

type fakePendingSource struct {
	pending []*data.Message
	err     error
}

func (f *fakePendingSource) PendingMessages(ctx context.Context, limit int) ([]*data.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func TestRecoverReenqueuesStrandedMessages(t *testing.T) {
	responder := &fakeResponder{}
	store := newFakeMessageStore()

	d := New(testConfig(), responder, &fakeSender{}, store, &fakeRebuilder{}, nil)
	startDispatcher(t, d)

	// One row stuck in processing from a shutdown mid-turn, one never
	// picked up at all.
	source := &fakePendingSource{pending: []*data.Message{
		{ID: 11, BusinessID: 1, Content: "still waiting", SenderPhone: "+94770000011", Status: data.StatusProcessing},
		{ID: 12, BusinessID: 2, Content: "never started", SenderPhone: "+94770000012", Status: data.StatusReceived},
	}}

	n, err := d.Recover(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for i := 0; i < 2; i++ {
		select {
		case <-store.responded:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for recovered messages")
		}
	}

	assert.Equal(t, data.StatusResponded, store.status(11))
	assert.Equal(t, data.StatusResponded, store.status(12))
	assert.Equal(t, 2, responder.callCount())
}

func TestRecoverStopsOnFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1

	// Not started, so the queue never drains.
	d := New(cfg, &fakeResponder{}, &fakeSender{}, newFakeMessageStore(), &fakeRebuilder{}, nil)

	require.NoError(t, d.Enqueue(Task{MessageID: 99}))

	source := &fakePendingSource{pending: []*data.Message{
		{ID: 1, BusinessID: 1, Content: "a", SenderPhone: "+94"},
	}}

	n, err := d.Recover(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, d.QueueDepth())
}

func TestRecoverPropagatesSourceError(t *testing.T) {
	d := New(testConfig(), &fakeResponder{}, &fakeSender{}, newFakeMessageStore(), &fakeRebuilder{}, nil)

	_, err := d.Recover(context.Background(), &fakePendingSource{err: errors.New("db locked")})
	require.Error(t, err)
}

func TestStopDrainsWorkers(t *testing.T) {
	d := New(testConfig(), &fakeResponder{}, &fakeSender{}, newFakeMessageStore(), &fakeRebuilder{}, nil)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())

	// Stop is idempotent on a stopped dispatcher's second Start guard.
	require.Error(t, d.Start(context.Background()))
}
