package kvengine

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/objectdb/objectdb/database"
	"github.com/pkg/errors"
)

// ErrCorruption marks structurally invalid engine data, such as an
// undecodable index entry. It translates to the non-transient code.
var ErrCorruption = errors.Wrap(database.ErrNonTransient, "database corruption")

// Engine implements database.Engine over any KVOpener. Concurrent opens
// of the same database name share one underlying flat database; the
// engine refcounts handles and closes the flat database when the last
// handle is released.
type Engine struct {
	opener  KVOpener
	rootDir string

	mtx  sync.Mutex
	open map[string]*sharedDatabase
}

type sharedDatabase struct {
	kv   KVDatabase
	refs int
}

// New returns an engine storing each database in its own subdirectory
// of rootDir.
func New(opener KVOpener, rootDir string) *Engine {
	return &Engine{
		opener:  opener,
		rootDir: rootDir,
		open:    make(map[string]*sharedDatabase),
	}
}

func (e *Engine) databasePath(name string) string {
	return filepath.Join(e.rootDir, name)
}

func validateDatabaseName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\") {
		return errors.Wrapf(database.ErrInvalidAccess, "invalid database name '%s'", name)
	}
	return nil
}

// Open opens the named database, creating it at version 0 if it does
// not exist.
//
// This method is part of the database.Engine interface.
func (e *Engine) Open(name string) (database.EngineDatabase, error) {
	err := validateDatabaseName(name)
	if err != nil {
		return nil, err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	shared, ok := e.open[name]
	if !ok {
		kv, err := e.opener.Open(e.databasePath(name))
		if err != nil {
			return nil, err
		}
		shared = &sharedDatabase{kv: kv}
		e.open[name] = shared
		log.Debugf("opened flat database for '%s'", name)
	}
	shared.refs++
	return &engineDatabase{engine: e, name: name, shared: shared}, nil
}

// Delete removes the named database. It fails while any handle to the
// database is still open.
//
// This method is part of the database.Engine interface.
func (e *Engine) Delete(name string) error {
	err := validateDatabaseName(name)
	if err != nil {
		return err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	if shared, ok := e.open[name]; ok && shared.refs > 0 {
		return errors.Wrapf(database.ErrInvalidState,
			"database '%s' still has %d open handles", name, shared.refs)
	}
	log.Debugf("destroying flat database for '%s'", name)
	return e.opener.Destroy(e.databasePath(name))
}

// release drops one handle's reference, closing the flat database when
// it was the last one.
func (e *Engine) release(name string, shared *sharedDatabase) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	shared.refs--
	if shared.refs > 0 {
		return nil
	}
	delete(e.open, name)
	log.Debugf("closing flat database for '%s'", name)
	return shared.kv.Close()
}
