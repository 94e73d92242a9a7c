package playchat

import (
	"fmt"
	"sync"
)

// DecodeEvent turns a relay envelope into a typed Event.
// Unknown event names yield (nil, nil) and are skipped by the dispatcher.
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Event {
	case eventError:
		if env.Error == nil {
			return ProtocolError{Err: NewError(ErrorUnknown, "error envelope without payload")}, nil
		}
		return ProtocolError{Err: FromProtocolError(env.Error)}, nil
	case eventNewMessage:
		var m Message
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return NewMessage{Message: m}, nil
	case eventMessageConfirmed:
		var m Message
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return MessageConfirmed{Message: m}, nil
	case eventUserTyping:
		var p UserTypingPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		return UserTyping{UserID: p.UserID, IsTyping: p.IsTyping}, nil
	case eventUserOnline:
		var id string
		if err := decodeData(env, &id); err != nil {
			return nil, err
		}
		return UserOnline{UserID: id}, nil
	case eventUserOffline:
		var id string
		if err := decodeData(env, &id); err != nil {
			return nil, err
		}
		return UserOffline{UserID: id}, nil
	case eventUpdateUnreadCount:
		var p UnreadCountPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		return UnreadUpdate{SenderID: p.SenderID, Increment: p.Increment}, nil
	case eventMessagesRead:
		var p MessagesReadPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		return MessagesRead{ReadBy: p.ReadBy}, nil
	default:
		return nil, nil
	}
}

func decodeData(env Envelope, v any) error {
	if err := UnmarshalData(env.Data, v); err != nil {
		return WrapError(ErrorSerialization, fmt.Sprintf("failed to unmarshal %s event", env.Event), err)
	}
	return nil
}

// Dispatcher routes decoded events to the registered handler.
type Dispatcher struct {
	mu      sync.RWMutex
	onEvent func(Event)
	onState func(StateEvent)
}

func (d *Dispatcher) SetOnEvent(fn func(Event)) {
	d.mu.Lock()
	d.onEvent = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnState(fn func(StateEvent)) {
	d.mu.Lock()
	d.onState = fn
	d.mu.Unlock()
}

// Reset drops every registered handler.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.onEvent = nil
	d.onState = nil
	d.mu.Unlock()
}

// Dispatch decodes env and hands the result to the event handler.
// Decoding failures are delivered as ProtocolError.
func (d *Dispatcher) Dispatch(env Envelope) {
	ev, err := DecodeEvent(env)
	if err != nil {
		d.Fire(ProtocolError{Err: err})
		return
	}
	if ev == nil {
		return
	}
	d.Fire(ev)
}

// Fire delivers an already typed event.
func (d *Dispatcher) Fire(ev Event) {
	d.mu.RLock()
	fn := d.onEvent
	d.mu.RUnlock()
	if fn != nil && ev != nil {
		fn(ev)
	}
}

func (d *Dispatcher) fireState(ev StateEvent) {
	d.mu.RLock()
	fn := d.onState
	d.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}
