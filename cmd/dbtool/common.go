package main

import (
	"github.com/objectdb/objectdb/database"
	"github.com/objectdb/objectdb/database/bdb"
	"github.com/objectdb/objectdb/database/kvengine"
	"github.com/objectdb/objectdb/database/ldb"
	"github.com/objectdb/objectdb/infrastructure/logger"
	"github.com/pkg/errors"
)

// newFactory builds a connection factory over the configured driver and
// data directory, and applies the configured log level.
func newFactory(flags *commonFlags) (*database.Factory, error) {
	level, ok := logger.LevelFromString(flags.LogLevel)
	if !ok {
		return nil, errors.Errorf("unknown log level '%s'", flags.LogLevel)
	}
	logger.SetLogLevels(level)

	var opener kvengine.KVOpener
	switch flags.Driver {
	case "ldb":
		opener = ldb.Opener()
	case "bdb":
		opener = bdb.Opener()
	default:
		return nil, errors.Errorf("unknown storage driver '%s'", flags.Driver)
	}
	return database.NewFactory(kvengine.New(opener, flags.DataDir)), nil
}

// connect opens a connection without requesting an upgrade.
func connect(flags *commonFlags, name string) (*database.Factory, *database.Connection, error) {
	factory, err := newFactory(flags)
	if err != nil {
		return nil, nil, err
	}
	connection, err := factory.OpenDatabase(name, 0, nil, nil).Wait()
	if err != nil {
		return nil, nil, err
	}
	return factory, connection, nil
}
