package main

import "fmt"

func showVersion(config *versionConfig) error {
	_, connection, err := connect(&config.commonFlags, config.Database)
	if err != nil {
		return err
	}
	defer connection.Close()

	fmt.Printf("database '%s' is at version %d\n", connection.Name(), connection.Version())
	return nil
}
