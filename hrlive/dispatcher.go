package hrlive

import "sync"

// Event is one item delivered to subscribers. Server events carry encoded
// Data; lifecycle events carry Err and, for stateChanged, State.
type Event struct {
	Name  EventName
	Data  []byte
	Err   error
	State StateEvent

	codec Codec
}

// Decode unmarshals the event payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	codec := e.codec
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := codec.Unmarshal(e.Data, v); err != nil {
		return WrapError(ErrorDataShape, "failed to decode "+string(e.Name)+" payload", err)
	}
	return nil
}

// Handler receives events from a Bus.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a typed publish/subscribe registry keyed by event name.
// Handlers for one event run in subscription order.
type Bus struct {
	mu   sync.Mutex
	next uint64
	subs map[EventName][]subscription
}

// Subscribe registers fn for name and returns a function removing it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(name EventName, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[EventName][]subscription)
	}
	b.next++
	id := b.next
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name EventName, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// Publish calls every handler registered for ev.Name. Handlers may
// subscribe or unsubscribe while being called.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs[ev.Name]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// Len reports the number of live subscriptions across all events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// listeners is an ordered set of callbacks taking one value.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.next++
	id := l.next
	l.fns = append(l.fns, listener[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, x := range l.fns {
				if x.id == id {
					l.fns = append(l.fns[:i:i], l.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[T]) call(v T) {
	l.mu.Lock()
	fns := append([]listener[T](nil), l.fns...)
	l.mu.Unlock()
	for _, x := range fns {
		x.fn(v)
	}
}
