package database

import "sync"

// future is the shared one-shot resolution state every public future type
// embeds. It is resolved at most once and observable by any number of
// waiters.
type future struct {
	mtx      sync.Mutex
	done     chan struct{}
	resolved bool
	err      *Error
}

func makeFuture() future {
	return future{done: make(chan struct{})}
}

// settle resolves the future, running set (if non-nil) to publish the
// result value before waiters are released. It returns false when the
// future had already been resolved, in which case nothing happens.
func (f *future) settle(set func(), err *Error) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.resolved {
		return false
	}
	if set != nil {
		set()
	}
	f.err = err
	f.resolved = true
	close(f.done)
	return true
}

// Done returns a channel that is closed once the future resolves. It
// allows any number of waiters to select on the outcome.
func (f *future) Done() <-chan struct{} {
	return f.done
}

// wait blocks until the future resolves and returns its failure, if any.
func (f *future) wait() error {
	<-f.done
	if f.err != nil {
		return f.err
	}
	return nil
}

// EmptyFuture resolves with no value.
type EmptyFuture struct {
	future
}

func newEmptyFuture() *EmptyFuture {
	return &EmptyFuture{future: makeFuture()}
}

func failedEmptyFuture(err *Error) *EmptyFuture {
	f := newEmptyFuture()
	f.fail(err)
	return f
}

func (f *EmptyFuture) resolve() bool {
	return f.settle(nil, nil)
}

func (f *EmptyFuture) fail(err *Error) bool {
	return f.settle(nil, err)
}

// Wait blocks until the operation completes and returns its failure, if
// any.
func (f *EmptyFuture) Wait() error {
	return f.wait()
}

// ValueFuture resolves with a single byte-slice result: a record value,
// or a resolved record key.
type ValueFuture struct {
	future
	value []byte
}

func newValueFuture() *ValueFuture {
	return &ValueFuture{future: makeFuture()}
}

func failedValueFuture(err *Error) *ValueFuture {
	f := newValueFuture()
	f.fail(err)
	return f
}

func (f *ValueFuture) resolve(value []byte) bool {
	return f.settle(func() { f.value = value }, nil)
}

func (f *ValueFuture) fail(err *Error) bool {
	return f.settle(nil, err)
}

// Wait blocks until the operation completes. The value is nil when the
// operation resolved with no matching record.
func (f *ValueFuture) Wait() ([]byte, error) {
	err := f.wait()
	if err != nil {
		return nil, err
	}
	return f.value, nil
}

// ValuesFuture resolves with an ordered sequence of values or keys.
type ValuesFuture struct {
	future
	values [][]byte
}

func newValuesFuture() *ValuesFuture {
	return &ValuesFuture{future: makeFuture()}
}

func failedValuesFuture(err *Error) *ValuesFuture {
	f := newValuesFuture()
	f.fail(err)
	return f
}

func (f *ValuesFuture) resolve(values [][]byte) bool {
	return f.settle(func() { f.values = values }, nil)
}

func (f *ValuesFuture) fail(err *Error) bool {
	return f.settle(nil, err)
}

// Wait blocks until the operation completes and returns the collected
// sequence in visitation order. A failure never yields partial results.
func (f *ValuesFuture) Wait() ([][]byte, error) {
	err := f.wait()
	if err != nil {
		return nil, err
	}
	return f.values, nil
}

// CountFuture resolves with a record count.
type CountFuture struct {
	future
	count uint64
}

func newCountFuture() *CountFuture {
	return &CountFuture{future: makeFuture()}
}

func failedCountFuture(err *Error) *CountFuture {
	f := newCountFuture()
	f.fail(err)
	return f
}

func (f *CountFuture) resolve(count uint64) bool {
	return f.settle(func() { f.count = count }, nil)
}

func (f *CountFuture) fail(err *Error) bool {
	return f.settle(nil, err)
}

// Wait blocks until the operation completes and returns the count.
func (f *CountFuture) Wait() (uint64, error) {
	err := f.wait()
	if err != nil {
		return 0, err
	}
	return f.count, nil
}

// ConnectionFuture resolves with an open Connection.
type ConnectionFuture struct {
	future
	connection *Connection
}

func newConnectionFuture() *ConnectionFuture {
	return &ConnectionFuture{future: makeFuture()}
}

func failedConnectionFuture(err *Error) *ConnectionFuture {
	f := newConnectionFuture()
	f.fail(err)
	return f
}

func (f *ConnectionFuture) resolve(connection *Connection) bool {
	return f.settle(func() { f.connection = connection }, nil)
}

func (f *ConnectionFuture) fail(err *Error) bool {
	return f.settle(nil, err)
}

// Wait blocks until the operation completes and returns the connection.
func (f *ConnectionFuture) Wait() (*Connection, error) {
	err := f.wait()
	if err != nil {
		return nil, err
	}
	return f.connection, nil
}
