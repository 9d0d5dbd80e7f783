package main

import (
	"fmt"

	"github.com/objectdb/objectdb/database"
)

func dumpStore(config *dumpConfig) error {
	_, connection, err := connect(&config.commonFlags, config.Database)
	if err != nil {
		return err
	}
	defer connection.Close()

	transaction, err := connection.CreateTransaction([]string{config.Store}, database.TransactionReadOnly)
	if err != nil {
		return err
	}
	store, err := transaction.ObjectStore(config.Store)
	if err != nil {
		return err
	}

	direction := database.CursorForward
	if config.Reverse {
		direction = database.CursorReverse
	}
	cursor, err := store.OpenCursor(nil, direction)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	records := 0
	cursor.OnNewData(func() {
		fmt.Printf("%x\t%s\n", cursor.Key(), cursor.Value())
		records++
		advanceErr := cursor.Advance()
		if advanceErr != nil {
			finish(advanceErr)
		}
	})
	cursor.OnComplete(func() {
		finish(nil)
	})
	cursor.OnError(func(cursorErr *database.Error) {
		finish(cursorErr)
	})

	err = <-done
	if err != nil {
		return err
	}
	fmt.Printf("%d records\n", records)
	_, err = transaction.AwaitCompletion().Wait()
	return err
}
