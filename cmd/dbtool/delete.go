package main

import "fmt"

func deleteDatabase(config *deleteConfig) error {
	factory, err := newFactory(&config.commonFlags)
	if err != nil {
		return err
	}
	err = factory.DeleteDatabase(config.Database, nil).Wait()
	if err != nil {
		return err
	}
	fmt.Printf("database '%s' deleted\n", config.Database)
	return nil
}
