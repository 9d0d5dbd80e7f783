package database_test

import (
	"testing"

	"github.com/objectdb/objectdb/database"
	"github.com/objectdb/objectdb/database/bdb"
	"github.com/objectdb/objectdb/database/kvengine"
	"github.com/objectdb/objectdb/database/ldb"
)

type factoryPrepareFunc struct {
	name    string
	prepare func(t *testing.T) *database.Factory
}

// factoryPrepareFuncs builds one factory per storage driver so every
// test runs against both.
var factoryPrepareFuncs = []factoryPrepareFunc{
	{
		name: "ldb",
		prepare: func(t *testing.T) *database.Factory {
			return database.NewFactory(kvengine.New(ldb.Opener(), t.TempDir()))
		},
	},
	{
		name: "bdb",
		prepare: func(t *testing.T) *database.Factory {
			return database.NewFactory(kvengine.New(bdb.Opener(), t.TempDir()))
		},
	},
}

func forEachDriver(t *testing.T, fn func(t *testing.T, factory *database.Factory)) {
	for _, prepareFunc := range factoryPrepareFuncs {
		t.Run(prepareFunc.name, func(t *testing.T) {
			fn(t, prepareFunc.prepare(t))
		})
	}
}

// prepareConnection opens a connection to a fresh database at version 1
// with the given out-of-line object stores.
func prepareConnection(t *testing.T, testName string, factory *database.Factory,
	storeNames ...string) *database.Connection {

	connection, err := factory.OpenDatabase("test", 1,
		func(connection *database.Connection, _ *database.Transaction, _, _ uint64) error {
			for _, storeName := range storeNames {
				_, err := connection.CreateObjectStore(storeName, database.ObjectStoreOptions{})
				if err != nil {
					return err
				}
			}
			return nil
		}, nil).Wait()
	if err != nil {
		t.Fatalf("%s: OpenDatabase unexpectedly failed: %s", testName, err)
	}
	return connection
}

// prepareTransaction opens a connection with a single store named
// "store" and a read-write transaction over it.
func prepareTransaction(t *testing.T, testName string,
	factory *database.Factory) (*database.Connection, *database.Transaction, *database.ObjectStore) {

	connection := prepareConnection(t, testName, factory, "store")
	transaction, err := connection.CreateTransaction([]string{"store"}, database.TransactionReadWrite)
	if err != nil {
		t.Fatalf("%s: CreateTransaction unexpectedly failed: %s", testName, err)
	}
	store, err := transaction.ObjectStore("store")
	if err != nil {
		t.Fatalf("%s: ObjectStore unexpectedly failed: %s", testName, err)
	}
	return connection, transaction, store
}
