// Package dispatch pushes newly created messages to the live connections of
// the message author and the other conversation participant.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/hub"
	"github.com/chatline/gateway/internal/metrics"
	"github.com/chatline/gateway/internal/protocol"
)

// SessionLookup is the read side of the session registry.
type SessionLookup interface {
	Lookup(userID int64) (hub.Handle, bool)
}

// Outcome of a push to one party.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeTargetAbsent Outcome = "absent"
	OutcomePushFailed   Outcome = "failed"
)

// Result reports what happened for each party of one event.
type Result struct {
	Author     Outcome
	OtherParty Outcome
}

// Dispatcher routes message events to connected parties. Delivery is best
// effort: absence and push failures are logged and counted, never returned.
type Dispatcher struct {
	sessions SessionLookup
	log      *zap.Logger
	metrics  *metrics.Collectors
}

// New creates a dispatcher reading handles from sessions.
func New(sessions SessionLookup, log *zap.Logger, m *metrics.Collectors) *Dispatcher {
	return &Dispatcher{sessions: sessions, log: log, metrics: m}
}

// Dispatch pushes evt as an onMessage frame to the author and the other party.
// It only fails for an event it cannot route or encode.
func (d *Dispatcher) Dispatch(ctx context.Context, evt domain.MessageEvent) (Result, error) {
	if err := evt.Validate(); err != nil {
		return Result{}, err
	}
	frame, err := protocol.Encode(protocol.TypeOnMessage, evt)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode message event: %w", err)
	}

	authorID := evt.Author.ID
	otherID := evt.OtherParty()

	res := Result{Author: d.push(ctx, "author", authorID, evt.ID, frame)}
	if otherID == authorID {
		// Conversation with oneself: one handle, one push.
		res.OtherParty = res.Author
		return res, nil
	}
	res.OtherParty = d.push(ctx, "recipient", otherID, evt.ID, frame)
	return res, nil
}

func (d *Dispatcher) push(ctx context.Context, party string, userID, messageID int64, frame []byte) Outcome {
	log := d.log.With(zap.String("party", party), zap.Int64("user_id", userID), zap.Int64("message_id", messageID))
	if ctx.Err() != nil {
		d.count(party, OutcomePushFailed)
		log.Debug("Dispatch cancelled")
		return OutcomePushFailed
	}

	h, ok := d.sessions.Lookup(userID)
	if !ok {
		d.count(party, OutcomeTargetAbsent)
		log.Debug("No live connection, message left for history fetch")
		return OutcomeTargetAbsent
	}

	if err := h.Push(frame); err != nil {
		d.count(party, OutcomePushFailed)
		if errors.Is(err, hub.ErrConnectionClosed) {
			log.Debug("Connection closed before push", zap.String("conn_id", h.ID()))
		} else {
			log.Warn("Push failed", zap.String("conn_id", h.ID()), zap.Error(err))
		}
		return OutcomePushFailed
	}

	d.count(party, OutcomeDelivered)
	log.Debug("Message pushed", zap.String("conn_id", h.ID()))
	return OutcomeDelivered
}

func (d *Dispatcher) count(party string, o Outcome) {
	if d.metrics != nil {
		d.metrics.Pushes.WithLabelValues(party, string(o)).Inc()
	}
}

// Run dispatches events from the stream until ctx is done or the stream closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.MessageEvent) {
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("Context done, stopping dispatcher")
			return
		case evt, ok := <-events:
			if !ok {
				d.log.Debug("Event stream closed, stopping dispatcher")
				return
			}
			res, err := d.Dispatch(ctx, evt)
			if err != nil {
				d.log.Warn("Dropping message event", zap.Int64("message_id", evt.ID), zap.Error(err))
				continue
			}
			d.log.Info("Message dispatched",
				zap.Int64("message_id", evt.ID),
				zap.String("author", string(res.Author)),
				zap.String("other_party", string(res.OtherParty)))
		}
	}
}
