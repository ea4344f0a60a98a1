package scenetwin

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// EventSource wraps a pubsub subscription and decodes incoming messages into
// typed events.
type EventSource struct {
	subscription *pubsub.Subscription
	eventType    reflect.Type
	decoder      func(p []byte, v reflect.Value) error
}

// NewGobEventSource returns an EventSource decoding gob-encoded messages from
// sub into values of the same type as prototype.
func NewGobEventSource(sub *pubsub.Subscription, prototype any) EventSource {
	return EventSource{
		subscription: sub,
		eventType:    reflect.TypeOf(prototype),
		decoder: func(p []byte, v reflect.Value) error {
			return gob.NewDecoder(bytes.NewReader(p)).DecodeValue(v)
		},
	}
}

// EventHandler is a function that processes a decoded event message.
type EventHandler func(ctx context.Context, msg any) error

// Stream returns a component.Proc that continuously receives messages from the
// subscription, decodes them using the configured decoder, and passes them to
// the provided EventHandler.
//
// Messages that cannot be decoded are logged and dropped. An error returned by
// the handler stops the proc.
func (s EventSource) Stream(h EventHandler) component.Proc {
	return func(l *component.L) {
		logger := component.Logger(l.Context()).With(slog.String("event-type", s.eventType.String()))
		for l.Continue() {
			msg, err := s.subscription.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			// always ack, even if we fail to decode.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			v := reflect.New(s.eventType)
			if err := s.decoder(msg.Body, v); err != nil {
				logger.Warn("Dropped undecodable message",
					slog.String("msg-id", msg.LoggableID),
					slog.Any("error", err),
				)
				continue
			}

			if err := h(l.Context(), v.Elem().Interface()); err != nil {
				l.Fatal(fmt.Errorf("process: %w", err))
			}
		}
	}
}
