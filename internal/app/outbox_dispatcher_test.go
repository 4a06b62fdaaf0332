package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/Aayu095/Job4Meal/pkg/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	messageID  string
	body       []byte
}

type recordingPublisher struct {
	mu        sync.Mutex
	failWith  error
	published []publishedMessage
	closed    int
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return errors.New("not used")
}

func (p *recordingPublisher) PublishRaw(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, publishedMessage{exchange: exchange, routingKey: routingKey, messageID: messageID, body: body})
	return nil
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func seededOutbox(t *testing.T) (*store.MemoryStore, *fixture) {
	t.Helper()
	s := store.NewMemoryStore()
	f := newFixture(t, s)
	f.postTask(t, 1)
	return s, f
}

func TestOutboxDispatcherPublishesPendingEvents(t *testing.T) {
	ctx := context.Background()
	s, _ := seededOutbox(t)
	publisher := &recordingPublisher{}
	connects := 0
	dispatcher := NewOutboxDispatcher(s, func() (rabbitmq.Publisher, error) {
		connects++
		return publisher, nil
	}, 10, time.Second)

	published, err := dispatcher.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, 1, connects)
	require.Len(t, publisher.published, 2)
	assert.Equal(t, "ledger.worker.registered", publisher.published[0].routingKey)
	assert.Equal(t, "ledger.task.posted", publisher.published[1].routingKey)
	assert.Equal(t, DefaultEventsExchange, publisher.published[1].exchange)
	assert.NotEmpty(t, publisher.published[1].messageID)

	published, err = dispatcher.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Equal(t, 1, connects)
}

func TestOutboxDispatcherReschedulesFailures(t *testing.T) {
	ctx := context.Background()
	s, _ := seededOutbox(t)
	failing := &recordingPublisher{failWith: errors.New("channel closed")}
	dispatcher := NewOutboxDispatcher(s, func() (rabbitmq.Publisher, error) {
		return failing, nil
	}, 10, time.Second)

	published, err := dispatcher.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Equal(t, 2, failing.closed)

	// Failed messages wait out their retry delay before being leased again.
	messages, err := s.ClaimOutbox(ctx, 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestOutboxDispatcherConnectFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := seededOutbox(t)
	dispatcher := NewOutboxDispatcher(s, func() (rabbitmq.Publisher, error) {
		return nil, errors.New("dial refused")
	}, 10, time.Second)

	published, err := dispatcher.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
}

type failingOutbox struct {
	store.Outbox
}

func (failingOutbox) ClaimOutbox(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error) {
	return nil, errors.New("database unavailable")
}

func TestOutboxDispatcherClaimFailure(t *testing.T) {
	dispatcher := NewOutboxDispatcher(failingOutbox{}, func() (rabbitmq.Publisher, error) {
		t.Fatal("publisher should not be opened")
		return nil, nil
	}, 0, 0)

	_, err := dispatcher.FlushOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, defaultOutboxBatchSize, dispatcher.batchSize)
	assert.Equal(t, defaultOutboxPollInterval, dispatcher.pollInterval)
}

func TestOutboxDispatcherRunStopsOnCancel(t *testing.T) {
	s, _ := seededOutbox(t)
	publisher := &recordingPublisher{}
	dispatcher := NewOutboxDispatcher(s, func() (rabbitmq.Publisher, error) {
		return publisher, nil
	}, 10, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return publisher.count() == 2
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	cases := map[int]int{0: 1, 1: 2, 3: 8, 8: 256, 20: 256}
	for attempt, expected := range cases {
		if got := retryDelaySeconds(attempt); got != expected {
			t.Fatalf("attempt %d: expected %d, got %d", attempt, expected, got)
		}
	}
}
