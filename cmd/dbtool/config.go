package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	versionSubCmd = "version"
	storesSubCmd  = "stores"
	dumpSubCmd    = "dump"
	deleteSubCmd  = "delete"
)

type commonFlags struct {
	DataDir  string `long:"datadir" short:"b" description:"Directory the databases live in" required:"true"`
	Driver   string `long:"driver" description:"Storage driver to use (ldb or bdb)" default:"ldb"`
	LogLevel string `long:"loglevel" short:"d" description:"Logging level {trace, debug, info, warn, error, critical}" default:"info"`
}

type versionConfig struct {
	Database string `long:"database" short:"n" description:"Database name" required:"true"`
	commonFlags
}

type storesConfig struct {
	Database string `long:"database" short:"n" description:"Database name" required:"true"`
	commonFlags
}

type dumpConfig struct {
	Database string `long:"database" short:"n" description:"Database name" required:"true"`
	Store    string `long:"store" short:"s" description:"Object store to dump" required:"true"`
	Reverse  bool   `long:"reverse" description:"Dump in descending key order"`
	commonFlags
}

type deleteConfig struct {
	Database string `long:"database" short:"n" description:"Database name" required:"true"`
	commonFlags
}

func parseCommandLine() (subCommand string, config interface{}) {
	parser := flags.NewParser(nil, flags.PrintErrors|flags.HelpFlag)

	versionConf := &versionConfig{}
	parser.AddCommand(versionSubCmd, "Show a database's schema version",
		"Show a database's stored schema version", versionConf)

	storesConf := &storesConfig{}
	parser.AddCommand(storesSubCmd, "List a database's object stores",
		"List a database's object stores along with their key paths and indexes", storesConf)

	dumpConf := &dumpConfig{}
	parser.AddCommand(dumpSubCmd, "Dump an object store's records",
		"Dump every record of an object store in key order", dumpConf)

	deleteConf := &deleteConfig{}
	parser.AddCommand(deleteSubCmd, "Delete a database",
		"Delete a database along with all of its stores and indexes", deleteConf)

	_, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if ok := errors.As(err, &flagsErr); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		} else {
			os.Exit(1)
		}
		return "", nil
	}

	switch parser.Command.Active.Name {
	case versionSubCmd:
		return versionSubCmd, versionConf
	case storesSubCmd:
		return storesSubCmd, storesConf
	case dumpSubCmd:
		return dumpSubCmd, dumpConf
	case deleteSubCmd:
		return deleteSubCmd, deleteConf
	}
	return parser.Command.Active.Name, nil
}
