package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/metrics"
)

func validEvent(id int64) domain.MessageEvent {
	return domain.MessageEvent{
		ID:        id,
		Content:   "hello",
		CreatedAt: time.Now(),
		Author:    domain.User{ID: 1},
		Conversation: domain.ConversationRef{
			ID:        3,
			Creator:   domain.User{ID: 1},
			Recipient: domain.User{ID: 2},
		},
	}
}

func TestBusPublishAndConsume(t *testing.T) {
	req := require.New(t)
	m := metrics.NewNop()
	bus := NewBus(2, m)

	req.NoError(bus.From("api").Publish(context.Background(), validEvent(1)))
	req.NoError(bus.Publish(context.Background(), validEvent(2)))

	// Buffer is full, the third event is refused rather than blocking
	err := bus.From("api").Publish(context.Background(), validEvent(3))
	req.ErrorIs(err, ErrBusFull)

	req.Equal(int64(1), (<-bus.Events()).ID)
	req.Equal(int64(2), (<-bus.Events()).ID)

	req.Equal(1.0, testutil.ToFloat64(m.Events.WithLabelValues("api", metrics.EventAccepted)))
	req.Equal(1.0, testutil.ToFloat64(m.Events.WithLabelValues("local", metrics.EventAccepted)))
	req.Equal(1.0, testutil.ToFloat64(m.Events.WithLabelValues("api", metrics.EventDropped)))
}

func TestBusRejectsInvalidEvent(t *testing.T) {
	bus := NewBus(1, metrics.NewNop())

	err := bus.Publish(context.Background(), domain.MessageEvent{ID: 1})

	require.ErrorIs(t, err, domain.ErrInvalidEvent)
	require.Len(t, bus.Events(), 0)
}

func TestBusCancelledContext(t *testing.T) {
	bus := NewBus(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, bus.Publish(ctx, validEvent(1)), context.Canceled)
}

func TestBusClose(t *testing.T) {
	req := require.New(t)
	bus := NewBus(4, nil)
	req.NoError(bus.Publish(context.Background(), validEvent(1)))

	bus.Close()
	bus.Close()

	req.ErrorIs(bus.Publish(context.Background(), validEvent(2)), ErrBusClosed)

	// Queued events survive the close
	evt, ok := <-bus.Events()
	req.True(ok)
	req.Equal(int64(1), evt.ID)
	_, ok = <-bus.Events()
	req.False(ok)
}

func TestBusConcurrentPublishAndClose(t *testing.T) {
	bus := NewBus(64, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := bus.Publish(context.Background(), validEvent(int64(i*100+j+1)))
				if err != nil && !errors.Is(err, ErrBusFull) && !errors.Is(err, ErrBusClosed) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(i)
	}
	go func() {
		for range bus.Events() {
		}
	}()
	bus.Close()
	wg.Wait()
}

type capturePublisher struct {
	events []domain.MessageEvent
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, evt domain.MessageEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, evt)
	return nil
}

func TestNATSBridgeHandle(t *testing.T) {
	req := require.New(t)
	pub := &capturePublisher{}
	bridge := NewNATSBridge(nil, "message.create", pub, zap.NewNop())

	data, err := json.Marshal(validEvent(7))
	req.NoError(err)
	req.NoError(bridge.Handle(context.Background(), data))
	req.Len(pub.events, 1)
	req.Equal(int64(7), pub.events[0].ID)
	req.Equal(int64(2), pub.events[0].OtherParty())

	req.Error(bridge.Handle(context.Background(), []byte("{oops")))
	req.Len(pub.events, 1)

	pub.err = ErrBusFull
	req.ErrorIs(bridge.Handle(context.Background(), data), ErrBusFull)
}

func TestNATSBridgeStopWithoutStart(t *testing.T) {
	bridge := NewNATSBridge(nil, "message.create", &capturePublisher{}, zap.NewNop())
	require.NoError(t, bridge.Stop())
}

func TestNATSBridgeIntoBus(t *testing.T) {
	req := require.New(t)
	bus := NewBus(1, nil)
	bridge := NewNATSBridge(nil, "message.create", bus.From("nats"), zap.NewNop())

	// An event missing its conversation never reaches the dispatcher
	bad, err := json.Marshal(domain.MessageEvent{ID: 1, Author: domain.User{ID: 1}})
	req.NoError(err)
	req.ErrorIs(bridge.Handle(context.Background(), bad), domain.ErrInvalidEvent)
	req.Len(bus.Events(), 0)
}
