// Package eventbus implements an in-process typed publish/subscribe bus.
// Delivery is at-most-once, in-process, with no persistence and no
// ordering across event types. Handler failures are isolated: a failing
// handler never cancels the publish or its sibling handlers.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chuncker/internal/logging"
	"chuncker/internal/notify"
)

// Event is the capability set every published value must implement.
type Event interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
	Correlation() string
}

// Handler processes one concrete event type.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Bus dispatches published events to every handler bound to the event's
// concrete type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
	drain    *notify.Signal
}

// New constructs an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logging.Default(logger).With("component", "eventbus"),
		drain:    notify.NewSignal(),
	}
}

// Subscribe explicitly binds handler to eventType.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// AutoRegister binds handler to every concrete event type it declares a
// Handle(context.Context, <ConcreteEvent>) error method for, discovered
// via reflection. This is the auto-discovery path named in spec §4.D/§9
// for languages where scanning loaded types for a capability is safe;
// Go expresses it via reflect on the handler's method set.
func (b *Bus) AutoRegister(handler any) error {
	v := reflect.ValueOf(handler)
	t := v.Type()

	eventType := reflect.TypeOf((*Event)(nil)).Elem()
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	errType := reflect.TypeOf((*error)(nil)).Elem()

	bound := 0
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if m.Name != "Handle" {
			continue
		}
		// Method signature: func(receiver, ctx context.Context, evt <ConcreteEvent>) error
		if m.Type.NumIn() != 3 || m.Type.NumOut() != 1 {
			continue
		}
		if !m.Type.In(1).Implements(ctxType) && m.Type.In(1) != ctxType {
			continue
		}
		concreteEvent := m.Type.In(2)
		if !concreteEvent.Implements(eventType) {
			continue
		}
		if m.Type.Out(0) != errType {
			continue
		}

		if _, ok := reflect.New(concreteEvent).Elem().Interface().(Event); !ok {
			continue
		}

		// The event type key is the concrete type's name, by convention
		// identical to the string its EventType() method returns (the
		// zero value can't be used to read EventType() since its base
		// fields aren't populated yet).
		method := m.Func
		b.Subscribe(concreteEvent.Name(), HandlerFunc(func(ctx context.Context, evt Event) error {
			args := []reflect.Value{v, reflect.ValueOf(ctx), reflect.ValueOf(evt)}
			out := method.Call(args)
			if out[0].IsNil() {
				return nil
			}
			return out[0].Interface().(error)
		}))
		bound++
	}
	if bound == 0 {
		return fmt.Errorf("eventbus: %T declares no matching Handle method", handler)
	}
	return nil
}

// Publish resolves the handler set for evt's event type and invokes each
// handler concurrently, waiting for all of them before returning. A
// failing or panicking handler is logged with the event's correlation id
// and isolated: it neither cancels the publish nor affects sibling
// handlers.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.EventType()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var g errgroup.Group
	for _, h := range handlers {
		h := h
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"eventType", evt.EventType(),
						"correlationId", evt.Correlation(),
						"panic", r,
					)
				}
			}()
			if err := h.Handle(ctx, evt); err != nil {
				b.logger.Error("event handler failed",
					"eventType", evt.EventType(),
					"correlationId", evt.Correlation(),
					"error", err,
				)
			}
			return nil // isolate: never propagate a handler failure to siblings
		})
	}
	_ = g.Wait()
}

// Close signals any internal waiters (e.g. a drain loop) to stop. The
// bus itself holds no resources beyond its handler map.
func (b *Bus) Close() {
	b.drain.Notify()
}
