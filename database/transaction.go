package database

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// TransactionMode is the access mode a transaction is bound to at
// creation.
type TransactionMode int

const (
	// TransactionReadOnly permits record reads only.
	TransactionReadOnly TransactionMode = iota

	// TransactionReadWrite permits record reads and writes.
	TransactionReadWrite

	// TransactionVersionChange permits structural edits during an
	// upgrade window. It is never created by CreateTransaction; only
	// the version-change flow of the factory produces it. Record
	// operations are inactive in this mode.
	TransactionVersionChange
)

func (m TransactionMode) String() string {
	switch m {
	case TransactionReadOnly:
		return "read-only"
	case TransactionReadWrite:
		return "read-write"
	case TransactionVersionChange:
		return "version-change"
	default:
		return "unknown"
	}
}

type transactionState int

const (
	transactionPending transactionState = iota
	transactionCommitted
	transactionAborted
	transactionErrored
)

// Transaction is one unit of work scoped to a fixed set of object stores
// and a mode. Its terminal outcome - committed, aborted or errored - is
// observed through AwaitCompletion and occurs exactly once, only after
// every continuation queued against the transaction has been dispatched.
type Transaction struct {
	connection *Connection
	mode       TransactionMode

	// storeNames is the fixed scope. Empty means every store, which is
	// only the case for version-change transactions.
	storeNames []string

	mtx             sync.Mutex
	state           transactionState
	engineTx        EngineTransaction
	pendingOps      int
	commitScheduled bool

	// holds keeps auto-commit off. Every transaction starts with one
	// hold that AwaitCompletion releases; the factory takes another
	// while an upgrade window is open.
	holds int

	// armOnce releases the initial hold on the first AwaitCompletion
	// call.
	armOnce sync.Once

	// terminalErr is the pre-translated error of the errored state.
	terminalErr *Error

	// parkedOps holds requests that arrived before the engine
	// transaction was begun. The engine allows one live write
	// transaction per database, so a writable transaction may have to
	// wait for the connection's writer slot.
	parkedOps []func()

	completion *ConnectionFuture
	cursors    []*Cursor
}

func newTransaction(connection *Connection, mode TransactionMode, storeNames []string) *Transaction {
	tx := &Transaction{
		connection: connection,
		mode:       mode,
		storeNames: storeNames,
		holds:      1,
		completion: newConnectionFuture(),
	}
	connection.transactionStarted()
	connection.queue.enqueue(tx.begin)
	return tx
}

// Mode returns the transaction's access mode.
func (tx *Transaction) Mode() TransactionMode {
	return tx.mode
}

// AwaitCompletion returns the future observing the transaction's
// terminal outcome. It resolves with the owning connection on commit and
// fails with a translated Error on abort or internal error.
//
// The first call also marks the end of request issuance: the
// transaction commits once every issued request has settled. Issue all
// requests before calling AwaitCompletion; requests racing it may find
// the transaction already committed.
func (tx *Transaction) AwaitCompletion() *ConnectionFuture {
	tx.armOnce.Do(tx.release)
	return tx.completion
}

// ObjectStore returns an accessor for the named store. It fails with a
// translated not-found Error when the name is outside the transaction's
// scope or the store does not exist.
func (tx *Transaction) ObjectStore(name string) (*ObjectStore, error) {
	subject := fmt.Sprintf("store '%s'", name)
	if tx.currentState() != transactionPending {
		return nil, newError(ErrorCodeTransactionInactive, "open", subject)
	}
	if !tx.inScope(name) {
		return nil, newError(ErrorCodeNotFound, "open", subject)
	}
	meta, err := tx.connection.engineDB.StoreMeta(name)
	if err != nil {
		return nil, TranslateError("open", subject, FailureFromError(err))
	}
	return &ObjectStore{transaction: tx, meta: meta}, nil
}

// Index returns an accessor for the named index of the named store,
// subject to the same scope rules as ObjectStore.
func (tx *Transaction) Index(storeName, indexName string) (*Index, error) {
	store, err := tx.ObjectStore(storeName)
	if err != nil {
		return nil, err
	}
	return store.GetIndex(indexName)
}

// Abort requests cancellation. Requests already queued but not yet
// executed fail with abort errors; no further requests are accepted. The
// completion future eventually fails with an abort Error.
func (tx *Transaction) Abort() error {
	tx.mtx.Lock()
	if tx.state != transactionPending {
		tx.mtx.Unlock()
		return newError(ErrorCodeTransactionInactive, "abort", "transaction")
	}
	tx.state = transactionAborted
	tx.mtx.Unlock()

	log.Debugf("transaction on database '%s' aborted by caller", tx.connection.name)
	tx.connection.queue.enqueue(tx.finalizeAbort)
	return nil
}

func (tx *Transaction) inScope(name string) bool {
	// A version-change transaction's scope is every store.
	if tx.mode == TransactionVersionChange {
		return tx.connection.hasStore(name)
	}
	for _, storeName := range tx.storeNames {
		if storeName == name {
			return true
		}
	}
	return false
}

func (tx *Transaction) currentState() transactionState {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	return tx.state
}

// checkRequest performs the synchronous gating every record operation
// goes through before being enqueued.
func (tx *Transaction) checkRequest(action, subject string, write bool) *Error {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	if tx.state != transactionPending {
		return newError(ErrorCodeTransactionInactive, action, subject)
	}
	if tx.mode == TransactionVersionChange {
		// The upgrade transaction is usable for structural edits
		// only.
		return newError(ErrorCodeTransactionInactive, action, subject)
	}
	if write && tx.mode == TransactionReadOnly {
		return newError(ErrorCodeReadOnly, action, subject)
	}
	return nil
}

// enqueueOp schedules run on the connection's dispatch goroutine and
// tracks it in the transaction's pending-request count. run receives a
// non-nil preError when the transaction reached a terminal state before
// the request executed, and returns a non-nil *Error to report a failure
// that moves the transaction to its errored state.
func (tx *Transaction) enqueueOp(action, subject string, run func(preError *Error) *Error) *Error {
	tx.mtx.Lock()
	if tx.state != transactionPending {
		tx.mtx.Unlock()
		return newError(ErrorCodeTransactionInactive, action, subject)
	}
	tx.pendingOps++
	tx.mtx.Unlock()

	enqueued := tx.connection.queue.enqueue(func() {
		tx.runOp(action, subject, run)
	})
	if !enqueued {
		tx.mtx.Lock()
		tx.pendingOps--
		tx.mtx.Unlock()
		return newError(ErrorCodeInvalidState, action, subject)
	}
	return nil
}

// runOp executes one queued request on the dispatch goroutine. Requests
// that arrive while the transaction still waits for its engine
// transaction are parked and replayed once begin completes.
func (tx *Transaction) runOp(action, subject string, run func(preError *Error) *Error) {
	tx.mtx.Lock()
	if tx.state == transactionPending && tx.engineTx == nil {
		tx.parkedOps = append(tx.parkedOps, func() {
			tx.runOp(action, subject, run)
		})
		tx.mtx.Unlock()
		return
	}
	tx.mtx.Unlock()

	failure := run(tx.preRunError(action, subject))
	tx.opFinished(failure)
}

// flushParkedOps re-enqueues every parked request. Called once the
// engine transaction exists, or on a terminal state so parked requests
// fail with the terminal error.
func (tx *Transaction) flushParkedOps() {
	tx.mtx.Lock()
	parked := tx.parkedOps
	tx.parkedOps = nil
	tx.mtx.Unlock()
	for _, op := range parked {
		tx.connection.queue.enqueue(op)
	}
}

// preRunError translates the transaction's state into the error a
// queued-but-unexecuted request fails with, or nil while pending.
func (tx *Transaction) preRunError(action, subject string) *Error {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	switch tx.state {
	case transactionPending:
		return nil
	case transactionAborted:
		return newError(ErrorCodeAbort, action, subject)
	case transactionErrored:
		return tx.terminalErr
	default:
		return newError(ErrorCodeTransactionInactive, action, subject)
	}
}

// runSync enqueues op and blocks until it has run. Used for structural
// edits during the upgrade window, which are synchronous at the API
// surface. Must not be called from the dispatch goroutine.
func (tx *Transaction) runSync(action, subject string, op func() *Error) *Error {
	future := newEmptyFuture()
	syncErr := tx.enqueueOp(action, subject, func(preError *Error) *Error {
		if preError != nil {
			future.fail(preError)
			return nil
		}
		err := op()
		if err != nil {
			future.fail(err)
			return err
		}
		future.resolve()
		return nil
	})
	if syncErr != nil {
		return syncErr
	}
	err := future.Wait()
	if err == nil {
		return nil
	}
	var translated *Error
	if errors.As(err, &translated) {
		return translated
	}
	return TranslateError(action, subject, FailureFromError(err))
}

// begin runs on the dispatch goroutine as the transaction's first task.
// Read-only transactions begin immediately on a snapshot; writable
// transactions first claim the connection's single writer slot and park
// until it frees.
func (tx *Transaction) begin() {
	if tx.mode == TransactionReadOnly {
		tx.beginEngine()
		return
	}
	if tx.connection.acquireWriter(tx) {
		tx.beginEngine()
	}
}

// beginEngine starts the engine transaction and replays any requests
// that were parked while waiting for it. Runs on the dispatch
// goroutine.
func (tx *Transaction) beginEngine() {
	if tx.currentState() != transactionPending {
		// Aborted before the engine transaction was even begun.
		tx.connection.releaseWriter(tx)
		tx.flushParkedOps()
		return
	}
	engineTx, err := tx.connection.engineDB.Begin(tx.mode != TransactionReadOnly)
	if err != nil {
		tx.failInternal(TranslateError("begin", "transaction", FailureFromError(err)))
		return
	}
	tx.mtx.Lock()
	tx.engineTx = engineTx
	tx.mtx.Unlock()
	tx.flushParkedOps()
	tx.maybeScheduleCommit()
}

func (tx *Transaction) opFinished(failure *Error) {
	tx.mtx.Lock()
	tx.pendingOps--
	tx.mtx.Unlock()
	if failure != nil {
		tx.failInternal(failure)
		return
	}
	tx.maybeScheduleCommit()
}

// retain keeps auto-commit off until the matching release. Used by the
// factory to hold the upgrade transaction open while the upgrade
// callback runs.
func (tx *Transaction) retain() {
	tx.mtx.Lock()
	tx.holds++
	tx.mtx.Unlock()
}

func (tx *Transaction) release() {
	tx.mtx.Lock()
	tx.holds--
	tx.mtx.Unlock()
	tx.connection.queue.enqueue(tx.maybeScheduleCommit)
}

// maybeScheduleCommit queues a commit attempt once the transaction has
// no pending requests. The attempt re-checks: a request enqueued before
// the attempt runs keeps the transaction open.
func (tx *Transaction) maybeScheduleCommit() {
	tx.mtx.Lock()
	if tx.state != transactionPending || tx.engineTx == nil ||
		tx.pendingOps > 0 || tx.holds > 0 || tx.commitScheduled {
		tx.mtx.Unlock()
		return
	}
	tx.commitScheduled = true
	tx.mtx.Unlock()
	tx.connection.queue.enqueue(tx.tryCommit)
}

func (tx *Transaction) tryCommit() {
	tx.mtx.Lock()
	tx.commitScheduled = false
	if tx.state != transactionPending || tx.pendingOps > 0 || tx.holds > 0 {
		tx.mtx.Unlock()
		return
	}
	tx.state = transactionCommitted
	engineTx := tx.engineTx
	tx.mtx.Unlock()

	err := engineTx.Commit()
	if err != nil {
		translated := TranslateError("commit", "transaction", FailureFromError(err))
		tx.mtx.Lock()
		tx.state = transactionErrored
		tx.terminalErr = translated
		tx.mtx.Unlock()
		tx.finish(translated, false)
		return
	}
	tx.finish(nil, false)
}

// failInternal moves a pending transaction to its errored terminal
// state, rolling back the engine transaction. Runs on the dispatch
// goroutine.
func (tx *Transaction) failInternal(failure *Error) {
	tx.mtx.Lock()
	if tx.state != transactionPending {
		tx.mtx.Unlock()
		return
	}
	tx.state = transactionErrored
	tx.terminalErr = failure
	engineTx := tx.engineTx
	tx.mtx.Unlock()

	if engineTx != nil {
		err := engineTx.Rollback()
		if err != nil {
			log.Warnf("rollback of errored transaction on database '%s' failed: %s",
				tx.connection.name, err)
		}
	}
	tx.finish(failure, false)
}

// finalizeAbort completes a caller-requested abort. It runs after every
// request that was queued at abort time has been dispatched.
func (tx *Transaction) finalizeAbort() {
	tx.mtx.Lock()
	engineTx := tx.engineTx
	tx.mtx.Unlock()

	if engineTx != nil {
		err := engineTx.Rollback()
		if err != nil {
			log.Warnf("rollback of aborted transaction on database '%s' failed: %s",
				tx.connection.name, err)
		}
	}
	tx.finish(newError(ErrorCodeAbort, "complete", "transaction"), true)
}

// finish fires the terminal outcome exactly once: it shuts down open
// cursors, settles the completion future, dispatches the connection
// signal and releases the transaction slot on the connection.
func (tx *Transaction) finish(failure *Error, aborted bool) {
	if tx.mode != TransactionReadOnly {
		tx.connection.releaseWriter(tx)
	}
	tx.flushParkedOps()

	tx.mtx.Lock()
	cursors := tx.cursors
	tx.cursors = nil
	tx.mtx.Unlock()
	for _, cursor := range cursors {
		cursor.shutdown()
	}

	if failure == nil {
		tx.completion.resolve(tx.connection)
	} else {
		tx.completion.fail(failure)
		if aborted {
			tx.connection.abortSignal.dispatch(nil)
		} else {
			tx.connection.errorSignal.dispatch(failure)
		}
	}
	tx.connection.transactionFinished()
}

func (tx *Transaction) registerCursor(cursor *Cursor) {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	tx.cursors = append(tx.cursors, cursor)
}

// withEngineTx gives request bodies access to the engine transaction.
// It is only called from the dispatch goroutine after begin has run.
func (tx *Transaction) withEngineTx() EngineTransaction {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	return tx.engineTx
}
