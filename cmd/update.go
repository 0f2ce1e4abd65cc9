package cmd

import (
	"fmt"
)

// Update asks freenetfs to sync a freedisk from freenet
func Update(opts Options, name string) {
	store := OpenConfig(opts.ConfigPath)
	if err := NewController(store, nil, opts).Update(name); err != nil {
		HandleError(err)
	}
	fmt.Printf("update: %s: requested\n", name)
}

// Commit asks freenetfs to insert a freedisk into freenet
func Commit(opts Options, name string) {
	store := OpenConfig(opts.ConfigPath)
	if err := NewController(store, nil, opts).Commit(name); err != nil {
		HandleError(err)
	}
	fmt.Printf("commit: %s: launching..\n", name)
}
