package cmd

import (
	"context"
	"fmt"
)

// Command runs a raw freenetfs command and prints the quoted result
func Command(ctx context.Context, opts Options, args []string) {
	store := OpenConfig(opts.ConfigPath)

	out, err := NewController(store, nil, opts).Command(ctx, args)
	if err != nil {
		HandleError(err)
	}
	fmt.Printf("%q\n", out)
}
