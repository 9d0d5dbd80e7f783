package database

import (
	"fmt"
	"sync"
)

// VersionChangeEvent is the payload of VERSION_CHANGE and blocked
// notifications. NewVersion is 0 when the database is being deleted.
type VersionChangeEvent struct {
	OldVersion uint64
	NewVersion uint64
}

// UpgradeNeededCallback runs inside an open upgrade window, before the
// connection future resolves. The transaction is the window's
// version-change transaction; structural edits go through the connection
// while it runs.
type UpgradeNeededCallback func(connection *Connection, transaction *Transaction,
	oldVersion, newVersion uint64) error

// BlockedCallback is invoked when an upgrade or deletion has to wait for
// other open connections to close.
type BlockedCallback func(event *VersionChangeEvent)

// Factory opens and deletes databases on an injected storage engine. It
// tracks every connection it has opened so that version changes can
// notify and wait out the others.
type Factory struct {
	engine Engine

	mtx         sync.Mutex
	cond        *sync.Cond
	connections map[string][]*Connection

	// upgrading serializes version changes and deletions per database
	// name. Two concurrent upgrades would otherwise block on each
	// other's connection forever.
	upgrading map[string]bool
}

// NewFactory returns a factory over the given engine.
func NewFactory(engine Engine) *Factory {
	f := &Factory{
		engine:      engine,
		connections: make(map[string][]*Connection),
		upgrading:   make(map[string]bool),
	}
	f.cond = sync.NewCond(&f.mtx)
	return f
}

// OpenDatabase opens a connection to the named database. A non-zero
// version requests an upgrade: when it exceeds the stored version,
// onUpgradeNeeded runs inside a version-change transaction before the
// future resolves. The version and callback come as a pair; giving one
// without the other fails with an invalid-access Error. onBlocked, when
// non-nil, is invoked if the upgrade has to wait for other open
// connections.
func (f *Factory) OpenDatabase(name string, version uint64,
	onUpgradeNeeded UpgradeNeededCallback, onBlocked BlockedCallback) *ConnectionFuture {

	subject := fmt.Sprintf("database '%s'", name)
	if (version == 0) != (onUpgradeNeeded == nil) {
		return failedConnectionFuture(newErrorWithExtra(ErrorCodeInvalidAccess, "open", subject,
			"version and onUpgradeNeeded must be given together"))
	}

	future := newConnectionFuture()
	spawn(func() {
		connection, err := f.open(name, version, onUpgradeNeeded, onBlocked)
		if err != nil {
			future.fail(TranslateError("open", subject, FailureFromError(err)))
			return
		}
		future.resolve(connection)
	})
	return future
}

func (f *Factory) open(name string, version uint64,
	onUpgradeNeeded UpgradeNeededCallback, onBlocked BlockedCallback) (*Connection, error) {

	engineDB, err := f.engine.Open(name)
	if err != nil {
		return nil, err
	}
	connection, err := newConnection(f, name, engineDB)
	if err != nil {
		closeErr := engineDB.Close()
		if closeErr != nil {
			log.Warnf("closing engine handle of database '%s' failed: %s", name, closeErr)
		}
		return nil, err
	}
	f.register(connection)
	log.Debugf("opened %s at version %d", connection, connection.Version())

	if version == 0 {
		return connection, nil
	}

	storedVersion := connection.Version()
	if version < storedVersion {
		connection.Close()
		return nil, newErrorWithExtra(ErrorCodeInvalidAccess, "open",
			fmt.Sprintf("database '%s'", name),
			fmt.Sprintf("requested version %d is below stored version %d", version, storedVersion))
	}
	if version == storedVersion {
		return connection, nil
	}

	err = f.upgrade(connection, storedVersion, version, onUpgradeNeeded, onBlocked, true)
	if err != nil {
		connection.Close()
		return nil, err
	}
	return connection, nil
}

// upgrade runs the full version-change flow on an already-registered
// connection: notify the other connections, wait them out (or fail when
// waiting is not permitted), then run the upgrade window.
func (f *Factory) upgrade(connection *Connection, oldVersion, newVersion uint64,
	onUpgradeNeeded UpgradeNeededCallback, onBlocked BlockedCallback, wait bool) error {

	name := connection.Name()
	event := &VersionChangeEvent{OldVersion: oldVersion, NewVersion: newVersion}

	f.acquireUpgradeSlot(name)
	defer f.releaseUpgradeSlot(name)

	f.notifyVersionChange(name, connection, event)
	if wait {
		f.waitForOtherConnections(name, connection, onBlocked, event)
	} else if f.otherConnectionCount(name, connection) > 0 {
		return newError(ErrorCodeVersionChangeBlocked, "set version of",
			fmt.Sprintf("database '%s'", name))
	}

	log.Infof("upgrading database '%s' from version %d to %d", name, oldVersion, newVersion)
	return f.runUpgradeWindow(connection, oldVersion, newVersion, onUpgradeNeeded)
}

// runUpgradeWindow opens a version-change transaction on the connection,
// runs the upgrade callback synchronously, stores the new version and
// waits for the transaction's terminal outcome.
func (f *Factory) runUpgradeWindow(connection *Connection, oldVersion, newVersion uint64,
	onUpgradeNeeded UpgradeNeededCallback) error {

	subject := fmt.Sprintf("database '%s'", connection.Name())
	upgradeTx := newTransaction(connection, TransactionVersionChange, nil)

	// The hold keeps auto-commit off for the whole window: the upgrade
	// transaction must not commit between structural edits.
	upgradeTx.retain()
	connection.setUpgradeTransaction(upgradeTx)

	callbackErr := onUpgradeNeeded(connection, upgradeTx, oldVersion, newVersion)
	connection.setUpgradeTransaction(nil)

	if callbackErr == nil && upgradeTx.currentState() == transactionPending {
		// The nil check happens on the concrete *Error: assigning the
		// result straight into the error-typed callbackErr would make a
		// successful run look like a failure.
		versionErr := upgradeTx.runSync("set version of", subject, func() *Error {
			engineErr := upgradeTx.withEngineTx().SetVersion(newVersion)
			if engineErr != nil {
				return TranslateError("set version of", subject, FailureFromError(engineErr))
			}
			return nil
		})
		if versionErr != nil {
			callbackErr = versionErr
		}
	}

	if callbackErr != nil && upgradeTx.currentState() == transactionPending {
		abortErr := upgradeTx.Abort()
		if abortErr != nil {
			log.Warnf("aborting failed upgrade of database '%s' failed: %s",
				connection.Name(), abortErr)
		}
	}
	upgradeTx.release()

	_, completionErr := upgradeTx.AwaitCompletion().Wait()
	if callbackErr != nil {
		return TranslateError("upgrade", subject, FailureFromError(callbackErr))
	}
	if completionErr != nil {
		return completionErr
	}

	err := connection.refreshMetadata()
	if err != nil {
		return err
	}
	log.Infof("database '%s' upgraded to version %d", connection.Name(), newVersion)
	return nil
}

// setVersion implements the legacy upgrade flow: it never waits for
// other connections, failing with the distinguished
// version-change-blocked condition instead.
func (f *Factory) setVersion(connection *Connection, version uint64,
	onUpgradeNeeded UpgradeNeededCallback) *ConnectionFuture {

	subject := fmt.Sprintf("database '%s'", connection.Name())
	if version == 0 || onUpgradeNeeded == nil {
		return failedConnectionFuture(newError(ErrorCodeInvalidAccess, "set version of", subject))
	}
	if !connection.IsOpen() {
		return failedConnectionFuture(newError(ErrorCodeInvalidState, "set version of", subject))
	}
	storedVersion := connection.Version()
	if version < storedVersion {
		return failedConnectionFuture(newErrorWithExtra(ErrorCodeInvalidAccess,
			"set version of", subject,
			fmt.Sprintf("requested version %d is below stored version %d", version, storedVersion)))
	}

	future := newConnectionFuture()
	spawn(func() {
		err := f.upgrade(connection, storedVersion, version, onUpgradeNeeded, nil, false)
		if err != nil {
			future.fail(TranslateError("set version of", subject, FailureFromError(err)))
			return
		}
		future.resolve(connection)
	})
	return future
}

// DeleteDatabase removes the named database. Open connections receive a
// VERSION_CHANGE event with NewVersion 0 and the deletion waits until
// every one of them has closed. onBlocked, when non-nil, is invoked if
// the deletion has to wait.
func (f *Factory) DeleteDatabase(name string, onBlocked BlockedCallback) *EmptyFuture {
	subject := fmt.Sprintf("database '%s'", name)
	future := newEmptyFuture()
	spawn(func() {
		err := f.delete(name, onBlocked)
		if err != nil {
			future.fail(TranslateError("delete", subject, FailureFromError(err)))
			return
		}
		future.resolve()
	})
	return future
}

func (f *Factory) delete(name string, onBlocked BlockedCallback) error {
	f.acquireUpgradeSlot(name)
	defer f.releaseUpgradeSlot(name)

	// The stored version rides along in the notification so handlers
	// can tell what is going away.
	engineDB, err := f.engine.Open(name)
	if err != nil {
		return err
	}
	storedVersion, err := engineDB.Version()
	closeErr := engineDB.Close()
	if closeErr != nil {
		log.Warnf("closing engine handle of database '%s' failed: %s", name, closeErr)
	}
	if err != nil {
		return err
	}

	event := &VersionChangeEvent{OldVersion: storedVersion, NewVersion: 0}
	f.notifyVersionChange(name, nil, event)
	f.waitForOtherConnections(name, nil, onBlocked, event)

	log.Infof("deleting database '%s' at version %d", name, storedVersion)
	return f.engine.Delete(name)
}

func (f *Factory) register(connection *Connection) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.connections[connection.Name()] = append(f.connections[connection.Name()], connection)
}

// connectionClosed unregisters a connection once its engine handle has
// been released, waking any upgrade or deletion waiting on it. The
// connection stays registered while its transactions drain, so deletion
// never runs against a database with live handles.
func (f *Factory) connectionClosed(connection *Connection) {
	log.Debugf("closed %s", connection)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	name := connection.Name()
	for i, registered := range f.connections[name] {
		if registered == connection {
			f.connections[name] = append(f.connections[name][:i], f.connections[name][i+1:]...)
			break
		}
	}
	if len(f.connections[name]) == 0 {
		delete(f.connections, name)
	}
	f.cond.Broadcast()
}

// notifyVersionChange dispatches a VERSION_CHANGE event to every open
// connection of the named database except the one driving the change.
func (f *Factory) notifyVersionChange(name string, exclude *Connection, event *VersionChangeEvent) {
	f.mtx.Lock()
	targets := make([]*Connection, 0, len(f.connections[name]))
	for _, connection := range f.connections[name] {
		if connection != exclude {
			targets = append(targets, connection)
		}
	}
	f.mtx.Unlock()

	for _, connection := range targets {
		connection.dispatchVersionChange(event)
	}
}

// waitForOtherConnections blocks until every connection to the named
// database other than exclude has closed. onBlocked fires once, on the
// first round that actually has to wait.
func (f *Factory) waitForOtherConnections(name string, exclude *Connection,
	onBlocked BlockedCallback, event *VersionChangeEvent) {

	notified := false
	f.mtx.Lock()
	for f.otherConnectionCountLocked(name, exclude) > 0 {
		if !notified && onBlocked != nil {
			f.mtx.Unlock()
			onBlocked(event)
			notified = true
			f.mtx.Lock()
			continue
		}
		f.cond.Wait()
	}
	f.mtx.Unlock()
}

func (f *Factory) otherConnectionCount(name string, exclude *Connection) int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.otherConnectionCountLocked(name, exclude)
}

func (f *Factory) otherConnectionCountLocked(name string, exclude *Connection) int {
	count := 0
	for _, connection := range f.connections[name] {
		if connection != exclude {
			count++
		}
	}
	return count
}

func (f *Factory) acquireUpgradeSlot(name string) {
	f.mtx.Lock()
	for f.upgrading[name] {
		f.cond.Wait()
	}
	f.upgrading[name] = true
	f.mtx.Unlock()
}

func (f *Factory) releaseUpgradeSlot(name string) {
	f.mtx.Lock()
	delete(f.upgrading, name)
	f.cond.Broadcast()
	f.mtx.Unlock()
}
