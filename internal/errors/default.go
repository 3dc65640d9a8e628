package errors

import (
	"fmt"
	"os"
	"sync"
)

var (
	defaultHandler *ErrorHandler
	once           sync.Once
)

func GetDefaultHandler() (*ErrorHandler, error) {
	var err error
	once.Do(func() {
		defaultHandler, err = NewErrorHandler()
	})
	return defaultHandler, err
}

func HandleError(err error) {
	if err == nil {
		return
	}
	if handler, handlerErr := GetDefaultHandler(); handlerErr == nil && handler != nil {
		handler.Handle(err)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	once = sync.Once{}
}
