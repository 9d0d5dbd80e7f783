package database

import "sync"

// Subscription is a registered signal handler. Unsubscribe removes it;
// unsubscribing twice is harmless.
type Subscription struct {
	list *handlerList
	id   uint64
}

// Unsubscribe removes the handler from its signal. It may be called from
// any goroutine, including from inside the handler itself.
func (s *Subscription) Unsubscribe() {
	s.list.remove(s.id)
}

type handlerEntry struct {
	id      uint64
	handler func(payload interface{})
}

// handlerList is the subscriber registry of a single named signal.
// Handlers are dispatched in registration order on the owning
// connection's dispatch goroutine.
type handlerList struct {
	mtx      sync.Mutex
	nextID   uint64
	handlers []handlerEntry
}

func (l *handlerList) subscribe(handler func(payload interface{})) *Subscription {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.nextID++
	id := l.nextID
	l.handlers = append(l.handlers, handlerEntry{id: id, handler: handler})
	return &Subscription{list: l, id: id}
}

// subscribeOnce registers a handler that unsubscribes itself before its
// first (and only) invocation.
func (l *handlerList) subscribeOnce(handler func(payload interface{})) *Subscription {
	var subscription *Subscription
	var once sync.Once
	subscription = l.subscribe(func(payload interface{}) {
		fired := false
		once.Do(func() { fired = true })
		if !fired {
			return
		}
		subscription.Unsubscribe()
		handler(payload)
	})
	return subscription
}

func (l *handlerList) remove(id uint64) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	for i, entry := range l.handlers {
		if entry.id == id {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// dispatch invokes every registered handler with the payload. The
// handler snapshot is taken up front, so handlers added or removed
// during dispatch do not affect the current round.
func (l *handlerList) dispatch(payload interface{}) {
	l.mtx.Lock()
	snapshot := make([]handlerEntry, len(l.handlers))
	copy(snapshot, l.handlers)
	l.mtx.Unlock()

	for _, entry := range snapshot {
		entry.handler(payload)
	}
}
