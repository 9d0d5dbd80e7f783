package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

func main() {
	subCmd, config := parseCommandLine()

	var err error
	switch subCmd {
	case versionSubCmd:
		err = showVersion(config.(*versionConfig))
	case storesSubCmd:
		err = listStores(config.(*storesConfig))
	case dumpSubCmd:
		err = dumpStore(config.(*dumpConfig))
	case deleteSubCmd:
		err = deleteDatabase(config.(*deleteConfig))
	default:
		err = errors.Errorf("Unknown sub-command '%s'\n", subCmd)
	}

	if err != nil {
		printErrorAndExit(err)
	}
}

func printErrorAndExit(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}
