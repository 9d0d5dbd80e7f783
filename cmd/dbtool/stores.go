package main

import (
	"fmt"

	"github.com/objectdb/objectdb/database"
)

func listStores(config *storesConfig) error {
	_, connection, err := connect(&config.commonFlags, config.Database)
	if err != nil {
		return err
	}
	defer connection.Close()

	storeNames := connection.ObjectStoreNames()
	if len(storeNames) == 0 {
		fmt.Printf("database '%s' has no object stores\n", connection.Name())
		return nil
	}

	transaction, err := connection.CreateTransaction(storeNames, database.TransactionReadOnly)
	if err != nil {
		return err
	}
	for _, storeName := range storeNames {
		store, err := transaction.ObjectStore(storeName)
		if err != nil {
			return err
		}
		count, err := store.Count(nil).Wait()
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d records", store.Name(), count)
		if store.KeyPath() != "" {
			fmt.Printf(", keyPath=%s", store.KeyPath())
		}
		if store.AutoIncrement() {
			fmt.Printf(", autoIncrement")
		}
		fmt.Println()
		for _, indexName := range store.IndexNames() {
			index, err := store.GetIndex(indexName)
			if err != nil {
				return err
			}
			unique := ""
			if index.Unique() {
				unique = ", unique"
			}
			fmt.Printf("  index %s: keyPath=%s%s\n", index.Name(), index.KeyPath(), unique)
		}
	}
	_, err = transaction.AwaitCompletion().Wait()
	return err
}
