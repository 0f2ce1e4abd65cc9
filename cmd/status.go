package cmd

import (
	"fmt"
)

// Status prints the freenetfs status of a freedisk
func Status(opts Options, name string) {
	store := OpenConfig(opts.ConfigPath)

	status, err := NewController(store, nil, opts).Status(name)
	if err != nil {
		HandleError(err)
	}
	if status == "" {
		status = "(no status)"
	}
	fmt.Printf("%s: %s\n", name, status)
}
