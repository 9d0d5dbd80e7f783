package database

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// CursorState is the lifecycle state of a Cursor.
type CursorState int

const (
	// CursorStateOpening means the range-scan request was issued but
	// no signal has been delivered yet.
	CursorStateOpening CursorState = iota

	// CursorStateActive means the cursor is positioned on a record.
	CursorStateActive

	// CursorStateExhausted means the range was consumed or the cursor
	// was closed.
	CursorStateExhausted

	// CursorStateErrored means a request failed; Err returns the
	// translated failure.
	CursorStateErrored
)

func (s CursorState) String() string {
	switch s {
	case CursorStateOpening:
		return "opening"
	case CursorStateActive:
		return "active"
	case CursorStateExhausted:
		return "exhausted"
	case CursorStateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Cursor drives event-based iteration over a key range of a store or an
// index. It emits three signals: NEW_DATA (OnNewData) when positioned on
// a record, COMPLETE (OnComplete) when the range is exhausted, and ERROR
// (OnError) on failure. Exactly one terminal signal fires, signals are
// delivered strictly sequentially on the connection's dispatch
// goroutine, and the cursor never advances on its own: each NEW_DATA must
// be answered by Advance (or AdvanceTo) to make progress.
//
// Handlers run on the dispatch goroutine itself. Waiting on a future
// from inside a handler blocks the goroutine that settles it; collect
// futures in the handler and wait elsewhere.
type Cursor struct {
	transaction *Transaction
	storeName   string
	indexName   string // empty for store cursors
	direction   CursorDirection
	rng         *KeyRange
	keysOnly    bool

	mtx          sync.Mutex
	state        CursorState
	engineCursor EngineCursor
	key          []byte
	primaryKey   []byte
	value        []byte
	hasData      bool
	deleted      bool

	// consumed is set once Advance acknowledges the current record.
	consumed bool

	// epoch increments on every NEW_DATA dispatch, letting late
	// subscribers replay only a signal they have not yet observed.
	epoch uint64

	// completed distinguishes range exhaustion from Close.
	completed bool
	err       *Error

	newDataSignal  handlerList
	completeSignal handlerList
	errorSignal    handlerList
}

func newCursor(tx *Transaction, storeName, indexName string, rng *KeyRange,
	direction CursorDirection, keysOnly bool) *Cursor {

	return &Cursor{
		transaction: tx,
		storeName:   storeName,
		indexName:   indexName,
		direction:   direction,
		rng:         rng,
		keysOnly:    keysOnly,
		state:       CursorStateOpening,
	}
}

func (c *Cursor) subject() string {
	if c.indexName != "" {
		return fmt.Sprintf("on index '%s' of store '%s'", c.indexName, c.storeName)
	}
	return fmt.Sprintf("on store '%s'", c.storeName)
}

// start issues the underlying range-scan request. The first signal is
// delivered asynchronously once the request resolves.
func (c *Cursor) start() *Error {
	c.transaction.registerCursor(c)
	return c.transaction.enqueueOp("open cursor", c.subject(), func(preError *Error) *Error {
		if preError != nil {
			c.failInternal(preError)
			return nil
		}
		engineTx := c.transaction.withEngineTx()
		var engineCursor EngineCursor
		var err error
		if c.indexName == "" {
			engineCursor, err = engineTx.Cursor(c.storeName, c.rng, c.direction)
		} else {
			engineCursor, err = engineTx.IndexCursor(c.storeName, c.indexName, c.rng, c.direction)
		}
		if err != nil {
			translated := TranslateError("open cursor", c.subject(), FailureFromError(err))
			c.failInternal(translated)
			return translated
		}
		c.mtx.Lock()
		c.engineCursor = engineCursor
		c.mtx.Unlock()
		return c.step(false, nil)
	})
}

// State returns the cursor's current lifecycle state.
func (c *Cursor) State() CursorState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Err returns the translated failure of an errored cursor, nil
// otherwise.
func (c *Cursor) Err() *Error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.err
}

// Key returns the cursor's current key: the record key for store
// cursors, the index key for index cursors. It is nil once the cursor
// has moved outside its range.
func (c *Cursor) Key() []byte {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state != CursorStateActive {
		return nil
	}
	return copyKey(c.key)
}

// PrimaryKey returns the key of the current record in its backing store.
// For store cursors it equals Key.
func (c *Cursor) PrimaryKey() []byte {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state != CursorStateActive {
		return nil
	}
	return copyKey(c.primaryKey)
}

// Value returns the current record's value: nil before the first
// NEW_DATA, nil after DeleteValue until the next advance, the record
// value otherwise. Key-only cursors have no values.
func (c *Cursor) Value() []byte {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.hasData || c.deleted || c.keysOnly {
		return nil
	}
	return copyKey(c.value)
}

// Advance moves the cursor one step in its direction. It must only be
// called while the cursor is positioned on an unconsumed record;
// otherwise it fails with a translated invalid-state Error.
func (c *Cursor) Advance() error {
	return c.advance(false, nil)
}

// AdvanceTo skips to the first position at or past the given key in the
// cursor's direction.
func (c *Cursor) AdvanceTo(key []byte) error {
	return c.advance(true, copyKey(key))
}

func (c *Cursor) advance(seek bool, seekKey []byte) error {
	c.mtx.Lock()
	if c.state != CursorStateActive || c.consumed {
		c.mtx.Unlock()
		return newError(ErrorCodeInvalidState, "advance cursor", c.subject())
	}
	c.consumed = true
	c.mtx.Unlock()

	syncErr := c.transaction.enqueueOp("advance cursor", c.subject(), func(preError *Error) *Error {
		if preError != nil {
			c.failInternal(preError)
			return nil
		}
		return c.step(seek, seekKey)
	})
	if syncErr != nil {
		return syncErr
	}
	return nil
}

// UpdateValue rewrites the record at the cursor's current position. If
// the record was deleted through the cursor, this recreates it.
func (c *Cursor) UpdateValue(value []byte) *EmptyFuture {
	action := "update record at cursor"
	if err := c.checkMutation(action); err != nil {
		return failedEmptyFuture(err)
	}
	c.mtx.Lock()
	primaryKey := copyKey(c.primaryKey)
	c.mtx.Unlock()
	valueCopy := copyKey(value)

	future := newEmptyFuture()
	syncErr := c.transaction.enqueueOp(action, c.subject(), func(preError *Error) *Error {
		if preError != nil {
			future.fail(preError)
			return nil
		}
		_, err := c.transaction.withEngineTx().Put(c.storeName, primaryKey, valueCopy)
		if err != nil {
			// The rejected value rides along for diagnostics.
			translated := TranslateError(action, c.subject(),
				FailureFromError(errors.Wrapf(err, "value %q", valueCopy)))
			future.fail(translated)
			return translated
		}
		c.mtx.Lock()
		c.deleted = false
		c.value = valueCopy
		c.mtx.Unlock()
		future.resolve()
		return nil
	})
	if syncErr != nil {
		return failedEmptyFuture(syncErr)
	}
	return future
}

// DeleteValue removes the record at the cursor's current position
// without moving the cursor. Value returns nil until the next advance.
func (c *Cursor) DeleteValue() *EmptyFuture {
	action := "delete record at cursor"
	if err := c.checkMutation(action); err != nil {
		return failedEmptyFuture(err)
	}
	c.mtx.Lock()
	primaryKey := copyKey(c.primaryKey)
	c.mtx.Unlock()

	future := newEmptyFuture()
	syncErr := c.transaction.enqueueOp(action, c.subject(), func(preError *Error) *Error {
		if preError != nil {
			future.fail(preError)
			return nil
		}
		err := c.transaction.withEngineTx().Delete(c.storeName, primaryKey)
		if err != nil {
			translated := TranslateError(action, c.subject(), FailureFromError(err))
			future.fail(translated)
			return translated
		}
		c.mtx.Lock()
		c.deleted = true
		c.value = nil
		c.mtx.Unlock()
		future.resolve()
		return nil
	})
	if syncErr != nil {
		return failedEmptyFuture(syncErr)
	}
	return future
}

func (c *Cursor) checkMutation(action string) *Error {
	if c.keysOnly {
		return newError(ErrorCodeInvalidState, action, c.subject())
	}
	if c.transaction.mode == TransactionReadOnly {
		return newError(ErrorCodeReadOnly, action, c.subject())
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state != CursorStateActive || c.consumed {
		return newError(ErrorCodeInvalidState, action, c.subject())
	}
	return nil
}

// Close cancels the iteration. No terminal signal is dispatched; the
// cursor moves to the exhausted state and its engine cursor is released.
func (c *Cursor) Close() error {
	c.mtx.Lock()
	if c.state == CursorStateExhausted || c.state == CursorStateErrored {
		c.mtx.Unlock()
		return nil
	}
	c.state = CursorStateExhausted
	engineCursor := c.engineCursor
	c.engineCursor = nil
	c.mtx.Unlock()

	if engineCursor != nil {
		c.transaction.connection.queue.enqueue(func() {
			err := engineCursor.Close()
			if err != nil {
				log.Warnf("closing cursor %s failed: %s", c.subject(), err)
			}
		})
	}
	return nil
}

// shutdown releases the engine cursor when the owning transaction
// reaches its terminal state. Runs on the dispatch goroutine.
func (c *Cursor) shutdown() {
	c.mtx.Lock()
	if c.state == CursorStateOpening || c.state == CursorStateActive {
		c.state = CursorStateExhausted
	}
	engineCursor := c.engineCursor
	c.engineCursor = nil
	c.mtx.Unlock()

	if engineCursor != nil {
		err := engineCursor.Close()
		if err != nil {
			log.Warnf("closing cursor %s failed: %s", c.subject(), err)
		}
	}
}

// step advances the engine cursor once and dispatches the resulting
// signal. Runs on the dispatch goroutine.
func (c *Cursor) step(seek bool, seekKey []byte) *Error {
	c.mtx.Lock()
	engineCursor := c.engineCursor
	c.mtx.Unlock()
	if engineCursor == nil {
		// Closed between the advance call and its execution.
		return nil
	}

	var positioned bool
	if seek {
		var err error
		positioned, err = engineCursor.Seek(seekKey)
		if err != nil {
			translated := TranslateError("advance cursor", c.subject(), FailureFromError(err))
			c.failInternal(translated)
			return translated
		}
	} else {
		positioned = engineCursor.Next()
	}
	if !positioned {
		c.completeInternal()
		return nil
	}

	key, err := engineCursor.Key()
	if err != nil {
		translated := TranslateError("read cursor key", c.subject(), FailureFromError(err))
		c.failInternal(translated)
		return translated
	}
	primaryKey, err := engineCursor.PrimaryKey()
	if err != nil {
		translated := TranslateError("read cursor key", c.subject(), FailureFromError(err))
		c.failInternal(translated)
		return translated
	}
	var value []byte
	if !c.keysOnly {
		value, err = engineCursor.Value()
		if err != nil {
			translated := TranslateError("read cursor value", c.subject(), FailureFromError(err))
			c.failInternal(translated)
			return translated
		}
	}

	c.mtx.Lock()
	c.state = CursorStateActive
	c.key = key
	c.primaryKey = primaryKey
	c.value = value
	c.hasData = true
	c.deleted = false
	c.consumed = false
	c.epoch++
	epoch := c.epoch
	c.mtx.Unlock()

	c.newDataSignal.dispatch(epoch)
	return nil
}

// completeInternal fires the COMPLETE terminal signal. Runs on the
// dispatch goroutine.
func (c *Cursor) completeInternal() {
	c.mtx.Lock()
	if c.state == CursorStateExhausted || c.state == CursorStateErrored {
		c.mtx.Unlock()
		return
	}
	c.state = CursorStateExhausted
	c.completed = true
	c.key = nil
	c.primaryKey = nil
	engineCursor := c.engineCursor
	c.engineCursor = nil
	c.mtx.Unlock()

	if engineCursor != nil {
		err := engineCursor.Close()
		if err != nil {
			log.Warnf("closing cursor %s failed: %s", c.subject(), err)
		}
	}
	c.completeSignal.dispatch(nil)
}

// failInternal fires the ERROR terminal signal. Runs on the dispatch
// goroutine. Once errored, neither NEW_DATA nor COMPLETE can follow.
func (c *Cursor) failInternal(failure *Error) {
	c.mtx.Lock()
	if c.state == CursorStateExhausted || c.state == CursorStateErrored {
		c.mtx.Unlock()
		return
	}
	c.state = CursorStateErrored
	c.err = failure
	c.key = nil
	c.primaryKey = nil
	engineCursor := c.engineCursor
	c.engineCursor = nil
	c.mtx.Unlock()

	if engineCursor != nil {
		err := engineCursor.Close()
		if err != nil {
			log.Warnf("closing errored cursor %s failed: %s", c.subject(), err)
		}
	}
	c.errorSignal.dispatch(failure)
}

// OnNewData subscribes to the NEW_DATA signal. A subscriber that
// attaches after the signal fired for the current record receives it
// once, asynchronously.
func (c *Cursor) OnNewData(handler func()) *Subscription {
	return c.subscribeNewData(handler, false)
}

// OnNewDataOnce subscribes to a single NEW_DATA delivery.
func (c *Cursor) OnNewDataOnce(handler func()) *Subscription {
	return c.subscribeNewData(handler, true)
}

func (c *Cursor) subscribeNewData(handler func(), once bool) *Subscription {
	var lastEpoch uint64
	var subscription *Subscription
	wrapped := func(payload interface{}) {
		epoch := payload.(uint64)
		if epoch <= lastEpoch {
			return
		}
		lastEpoch = epoch
		if once {
			subscription.Unsubscribe()
		}
		handler()
	}
	subscription = c.newDataSignal.subscribe(wrapped)

	// Replay a NEW_DATA the subscriber missed for the current record.
	c.transaction.connection.queue.enqueue(func() {
		c.mtx.Lock()
		replay := c.state == CursorStateActive && !c.consumed
		epoch := c.epoch
		c.mtx.Unlock()
		if replay {
			wrapped(epoch)
		}
	})
	return subscription
}

// OnComplete subscribes to the COMPLETE signal. Subscribing after the
// cursor completed delivers the signal once, asynchronously.
func (c *Cursor) OnComplete(handler func()) *Subscription {
	return c.subscribeTerminal(&c.completeSignal, func(interface{}) { handler() },
		func() bool {
			c.mtx.Lock()
			defer c.mtx.Unlock()
			return c.completed
		})
}

// OnError subscribes to the ERROR signal. Subscribing after the cursor
// errored delivers the signal once, asynchronously.
func (c *Cursor) OnError(handler func(*Error)) *Subscription {
	return c.subscribeTerminal(&c.errorSignal, func(payload interface{}) { handler(payload.(*Error)) },
		func() bool {
			c.mtx.Lock()
			defer c.mtx.Unlock()
			return c.state == CursorStateErrored
		})
}

func (c *Cursor) subscribeTerminal(list *handlerList, wrapped func(interface{}),
	alreadyFired func() bool) *Subscription {

	fired := false
	guarded := func(payload interface{}) {
		if fired {
			return
		}
		fired = true
		wrapped(payload)
	}
	subscription := list.subscribe(guarded)
	c.transaction.connection.queue.enqueue(func() {
		if alreadyFired() {
			guarded(c.Err())
		}
	})
	return subscription
}
