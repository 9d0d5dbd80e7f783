/*
Package database provides a typed, future/signal-based adapter over an
embedded transactional object database engine.

The package converts the synchronous primitives of an injected Engine
implementation (see the kvengine, ldb and bdb subpackages) into a consistent
asynchronous result and signal-dispatch model: a Factory opens Connections,
a Connection creates Transactions scoped to named object stores, stores and
indexes expose record operations that resolve one-shot futures, and Cursors
drive event-based iteration over key ranges.

All requests of a single connection are executed on one dispatch goroutine,
so signal delivery is strictly sequential per cursor and a transaction's
terminal outcome fires only after every continuation queued against it has
been dispatched.
*/
package database
