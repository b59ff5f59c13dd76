package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Envelope carries the reply event names of a request payload.
type Envelope struct {
	BusEvent   string `json:"busEvent,omitempty"`
	ErrorEvent string `json:"errorEvent,omitempty"`
}

// RemoteError is the payload a responder published on the error event.
type RemoteError struct {
	Event   string
	Payload any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus: %s failed: %v", e.Event, e.Payload)
}

// ReplyNames returns fresh uuid suffixed reply event names for event.
func ReplyNames(event string) Envelope {
	id := uuid.NewString()
	return Envelope{
		BusEvent:   event + ".result." + id,
		ErrorEvent: event + ".error." + id,
	}
}

// Request publishes event with reply names added to payload and waits for
// the first reply or ctx.
func Request(ctx context.Context, b Bus, event string, payload map[string]any) (any, error) {
	names := ReplyNames(event)

	msg := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg["busEvent"] = names.BusEvent
	msg["errorEvent"] = names.ErrorEvent

	type reply struct {
		payload any
		err     error
	}
	ch := make(chan reply, 1)

	offOK := b.Once(names.BusEvent, func(_ string, p any) {
		select {
		case ch <- reply{payload: p}:
		default:
		}
	})
	defer offOK()
	offErr := b.Once(names.ErrorEvent, func(_ string, p any) {
		select {
		case ch <- reply{err: &RemoteError{Event: event, Payload: p}}:
		default:
		}
	})
	defer offErr()

	b.Publish(event, msg)

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("bus: waiting for %s: %w", event, ctx.Err())
	}
}

// Reply publishes result on env.BusEvent, or err on env.ErrorEvent. Empty
// names are skipped.
func Reply(b Bus, env Envelope, result any, err error) {
	if err != nil {
		if env.ErrorEvent != "" {
			b.Publish(env.ErrorEvent, map[string]any{"error": err.Error()})
		}
		return
	}
	if env.BusEvent != "" {
		b.Publish(env.BusEvent, result)
	}
}
