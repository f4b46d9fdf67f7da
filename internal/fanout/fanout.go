// Package fanout delivers protocol events to connected recipients. Delivery
// is at-most-once: a failure to reach one recipient never fails the mutation
// that produced the event.
package fanout

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Event kinds pushed over live connections.
const (
	EventMessage      = "message"
	EventIntent       = "intent"
	EventRequest      = "request"
	EventJoinGroup    = "joinGroup"
	EventLeaveGroup   = "leaveGroup"
	EventRemove       = "remove"
	EventRoleChange   = "roleChange"
	EventOnlineStatus = "onlineStatus"
)

// Event is one unit of delivery.
type Event struct {
	Kind    string          `json:"event"`
	ChatID  string          `json:"chatId,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Gateway pushes an encoded event to every live connection of a DID.
type Gateway interface {
	Push(ctx context.Context, didStr string, data []byte) error
}

// Dispatcher resolves recipients and pushes events through the gateway.
type Dispatcher struct {
	gateway Gateway
	log     zerolog.Logger
}

func NewDispatcher(gateway Gateway, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{gateway: gateway, log: log}
}

// Deliver pushes ev to each recipient. Per-recipient failures are logged and
// swallowed.
func (d *Dispatcher) Deliver(ctx context.Context, recipients []string, ev Event) {
	if d.gateway == nil || len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		d.log.Error().Err(err).Str("kind", ev.Kind).Msg("event encode failed")
		return
	}
	for _, didStr := range recipients {
		if err := d.gateway.Push(ctx, didStr, data); err != nil {
			d.log.Debug().Err(err).Str("did", didStr).Str("kind", ev.Kind).Msg("event push failed")
		}
	}
}

// Payload marshals v for embedding in an Event, collapsing errors to null.
func Payload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
