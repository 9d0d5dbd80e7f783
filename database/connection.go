package database

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Connection is one open handle to a database. All of its requests,
// continuations and signal deliveries are serialized on a single
// dispatch goroutine, so handlers never race each other.
//
// A connection emits three signals: ABORT when any of its transactions
// aborts, ERROR when any of its transactions fails internally, and
// VERSION_CHANGE when another connection requests a version upgrade or
// a database deletion while this one is still open.
type Connection struct {
	id       uuid.UUID
	factory  *Factory
	engineDB EngineDatabase
	name     string
	queue    *dispatchQueue

	mtx                sync.Mutex
	closed             bool
	closeRequested     bool
	finalized          bool
	activeTransactions int
	version            uint64
	storeNames         []string

	// upgradeTx is non-nil only while this connection's upgrade window
	// is open. It gates the structural API surface.
	upgradeTx *Transaction

	// The engine allows one live write transaction per database, so
	// writable transactions of this connection take turns on a single
	// writer slot. Waiters are resumed in creation order.
	activeWriter *Transaction
	writerQueue  []*Transaction

	abortSignal         handlerList
	errorSignal         handlerList
	versionChangeSignal handlerList
}

func newConnection(factory *Factory, name string, engineDB EngineDatabase) (*Connection, error) {
	c := &Connection{
		id:       uuid.New(),
		factory:  factory,
		engineDB: engineDB,
		name:     name,
		queue:    newDispatchQueue(),
	}
	err := c.refreshMetadata()
	if err != nil {
		return nil, err
	}
	c.queue.start()
	return c, nil
}

// Name returns the database name this connection is open against.
func (c *Connection) Name() string {
	return c.name
}

// Version returns the schema version observed when the connection was
// opened or last upgraded.
func (c *Connection) Version() uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.version
}

// ObjectStoreNames returns the names of the database's object stores,
// sorted, as observed when the connection was opened or last upgraded.
func (c *Connection) ObjectStoreNames() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	names := make([]string, len(c.storeNames))
	copy(names, c.storeNames)
	return names
}

// IsOpen reports whether the connection still accepts new transactions.
func (c *Connection) IsOpen() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return !c.closed && !c.closeRequested
}

// CreateTransaction starts a transaction over the given stores in the
// given mode. The scope and mode are fixed for the transaction's
// lifetime. Version-change transactions cannot be created this way; they
// only exist inside the factory's upgrade flow.
func (c *Connection) CreateTransaction(storeNames []string, mode TransactionMode) (*Transaction, error) {
	subject := fmt.Sprintf("transaction on database '%s'", c.name)
	if mode == TransactionVersionChange {
		return nil, newError(ErrorCodeInvalidAccess, "create", subject)
	}
	if len(storeNames) == 0 {
		return nil, newError(ErrorCodeInvalidAccess, "create", subject)
	}

	c.mtx.Lock()
	if c.closed || c.closeRequested {
		c.mtx.Unlock()
		return nil, newError(ErrorCodeInvalidState, "create", subject)
	}
	for _, storeName := range storeNames {
		if !c.hasStoreLocked(storeName) {
			c.mtx.Unlock()
			return nil, newError(ErrorCodeNotFound, "create",
				fmt.Sprintf("store '%s' on database '%s'", storeName, c.name))
		}
	}
	c.mtx.Unlock()

	scope := make([]string, len(storeNames))
	copy(scope, storeNames)
	return newTransaction(c, mode, scope), nil
}

// CreateObjectStore creates an object store. It is legal only while the
// connection's upgrade window is open, inside an onUpgradeNeeded
// callback.
func (c *Connection) CreateObjectStore(name string, options ObjectStoreOptions) (*ObjectStore, error) {
	subject := fmt.Sprintf("store '%s' on database '%s'", name, c.name)
	upgradeTx, err := c.upgradeTransaction("create", subject)
	if err != nil {
		return nil, err
	}

	meta := &StoreMeta{
		Name:          name,
		KeyPath:       options.KeyPath,
		AutoIncrement: options.AutoIncrement,
	}
	runErr := upgradeTx.runSync("create", subject, func() *Error {
		engineErr := upgradeTx.withEngineTx().CreateStore(meta)
		if engineErr != nil {
			return TranslateError("create", subject, FailureFromError(engineErr))
		}
		return nil
	})
	if runErr != nil {
		return nil, runErr
	}

	c.mtx.Lock()
	c.storeNames = append(c.storeNames, name)
	sort.Strings(c.storeNames)
	c.mtx.Unlock()
	return &ObjectStore{transaction: upgradeTx, meta: meta}, nil
}

// DeleteObjectStore removes an object store along with its records and
// indexes. Legal only while the connection's upgrade window is open.
func (c *Connection) DeleteObjectStore(name string) error {
	subject := fmt.Sprintf("store '%s' on database '%s'", name, c.name)
	upgradeTx, err := c.upgradeTransaction("delete", subject)
	if err != nil {
		return err
	}

	runErr := upgradeTx.runSync("delete", subject, func() *Error {
		engineErr := upgradeTx.withEngineTx().DeleteStore(name)
		if engineErr != nil {
			return TranslateError("delete", subject, FailureFromError(engineErr))
		}
		return nil
	})
	if runErr != nil {
		return runErr
	}

	c.mtx.Lock()
	for i, storeName := range c.storeNames {
		if storeName == name {
			c.storeNames = append(c.storeNames[:i], c.storeNames[i+1:]...)
			break
		}
	}
	c.mtx.Unlock()
	return nil
}

// SetVersion runs the legacy upgrade flow on this open connection: it
// bumps the version and runs the callback inside a version-change
// transaction. It fails with a version-change-blocked Error while other
// connections to the same database are open.
func (c *Connection) SetVersion(version uint64, onUpgradeNeeded UpgradeNeededCallback) *ConnectionFuture {
	return c.factory.setVersion(c, version, onUpgradeNeeded)
}

// Close requests closing the connection. It returns immediately; the
// engine handle is released once every live transaction has reached its
// terminal state. New transactions are rejected from this point on.
func (c *Connection) Close() {
	c.mtx.Lock()
	if c.closed || c.closeRequested {
		c.mtx.Unlock()
		return
	}
	c.closeRequested = true
	c.mtx.Unlock()

	log.Debugf("closing connection %s to database '%s'", c.id, c.name)
	c.tryFinalize()
}

// OnAbort subscribes to the ABORT signal, fired whenever one of the
// connection's transactions is aborted.
func (c *Connection) OnAbort(handler func()) *Subscription {
	return c.abortSignal.subscribe(func(interface{}) { handler() })
}

// OnAbortOnce subscribes to a single ABORT delivery.
func (c *Connection) OnAbortOnce(handler func()) *Subscription {
	return c.abortSignal.subscribeOnce(func(interface{}) { handler() })
}

// OnError subscribes to the ERROR signal, fired whenever one of the
// connection's transactions fails internally.
func (c *Connection) OnError(handler func(*Error)) *Subscription {
	return c.errorSignal.subscribe(func(payload interface{}) { handler(payload.(*Error)) })
}

// OnErrorOnce subscribes to a single ERROR delivery.
func (c *Connection) OnErrorOnce(handler func(*Error)) *Subscription {
	return c.errorSignal.subscribeOnce(func(payload interface{}) { handler(payload.(*Error)) })
}

// OnVersionChange subscribes to the VERSION_CHANGE signal, fired when
// another connection requests an upgrade or a deletion of this database.
// Handlers typically close the connection to unblock the requester.
func (c *Connection) OnVersionChange(handler func(*VersionChangeEvent)) *Subscription {
	return c.versionChangeSignal.subscribe(func(payload interface{}) {
		handler(payload.(*VersionChangeEvent))
	})
}

// OnVersionChangeOnce subscribes to a single VERSION_CHANGE delivery.
func (c *Connection) OnVersionChangeOnce(handler func(*VersionChangeEvent)) *Subscription {
	return c.versionChangeSignal.subscribeOnce(func(payload interface{}) {
		handler(payload.(*VersionChangeEvent))
	})
}

// dispatchVersionChange delivers a VERSION_CHANGE event on the dispatch
// goroutine.
func (c *Connection) dispatchVersionChange(event *VersionChangeEvent) {
	c.queue.enqueue(func() {
		c.versionChangeSignal.dispatch(event)
	})
}

// upgradeTransaction returns the live upgrade transaction, failing when
// no upgrade window is open.
func (c *Connection) upgradeTransaction(action, subject string) (*Transaction, *Error) {
	c.mtx.Lock()
	upgradeTx := c.upgradeTx
	c.mtx.Unlock()
	if upgradeTx == nil {
		return nil, newError(ErrorCodeNotAllowed, action, subject)
	}
	if upgradeTx.currentState() != transactionPending {
		return nil, newError(ErrorCodeTransactionInactive, action, subject)
	}
	return upgradeTx, nil
}

func (c *Connection) setUpgradeTransaction(tx *Transaction) {
	c.mtx.Lock()
	c.upgradeTx = tx
	c.mtx.Unlock()
}

// refreshMetadata re-reads the cached version and store names from the
// engine. Called at open time and after an upgrade window commits.
func (c *Connection) refreshMetadata() error {
	version, err := c.engineDB.Version()
	if err != nil {
		return err
	}
	storeNames, err := c.engineDB.StoreNames()
	if err != nil {
		return err
	}
	c.mtx.Lock()
	c.version = version
	c.storeNames = storeNames
	c.mtx.Unlock()
	return nil
}

func (c *Connection) hasStore(name string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.hasStoreLocked(name)
}

func (c *Connection) hasStoreLocked(name string) bool {
	for _, storeName := range c.storeNames {
		if storeName == name {
			return true
		}
	}
	return false
}

// acquireWriter grants the writer slot to tx, or queues it and returns
// false. A queued transaction's beginEngine is re-enqueued once the
// slot frees.
func (c *Connection) acquireWriter(tx *Transaction) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.activeWriter == nil {
		c.activeWriter = tx
		return true
	}
	c.writerQueue = append(c.writerQueue, tx)
	return false
}

// releaseWriter drops tx's claim on the writer slot, whether granted or
// still queued, and hands the slot to the next waiter.
func (c *Connection) releaseWriter(tx *Transaction) {
	c.mtx.Lock()
	for i, waiting := range c.writerQueue {
		if waiting == tx {
			c.writerQueue = append(c.writerQueue[:i], c.writerQueue[i+1:]...)
			c.mtx.Unlock()
			return
		}
	}
	if c.activeWriter != tx {
		c.mtx.Unlock()
		return
	}
	c.activeWriter = nil
	var next *Transaction
	if len(c.writerQueue) > 0 {
		next = c.writerQueue[0]
		c.writerQueue = c.writerQueue[1:]
		c.activeWriter = next
	}
	c.mtx.Unlock()

	if next != nil {
		c.queue.enqueue(next.beginEngine)
	}
}

func (c *Connection) transactionStarted() {
	c.mtx.Lock()
	c.activeTransactions++
	c.mtx.Unlock()
}

// transactionFinished runs on the dispatch goroutine as part of a
// transaction's terminal handling.
func (c *Connection) transactionFinished() {
	c.mtx.Lock()
	c.activeTransactions--
	c.mtx.Unlock()
	c.tryFinalize()
}

// tryFinalize releases the engine handle once a close was requested and
// the last live transaction has finished.
func (c *Connection) tryFinalize() {
	c.mtx.Lock()
	if !c.closeRequested || c.finalized || c.activeTransactions > 0 {
		c.mtx.Unlock()
		return
	}
	c.finalized = true
	c.closed = true
	c.mtx.Unlock()

	c.queue.enqueue(func() {
		err := c.engineDB.Close()
		if err != nil {
			log.Warnf("closing engine handle of database '%s' failed: %s", c.name, err)
		}
		c.factory.connectionClosed(c)
	})
	c.queue.stop()
}

// String identifies the connection in logs.
func (c *Connection) String() string {
	return fmt.Sprintf("connection %s to database '%s'", c.id, c.name)
}
