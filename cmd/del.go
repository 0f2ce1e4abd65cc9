package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/illarion/freedisk/internal/freedisk"
)

// Del removes a freedisk from the config and the mount. For a disk that
// never made it into the config it only clears interrupted operations.
func Del(ctx context.Context, opts Options, name string) {
	j, store := OpenLockedConfig(opts.ConfigPath)
	defer j.Close()

	err := NewController(store, j, opts).Del(ctx, name)
	if errors.Is(err, freedisk.ErrNotFound) {
		if cleared, clearErr := j.ClearDisk(name); clearErr == nil && cleared > 0 {
			fmt.Printf("Cleared %d interrupted operation(s) for %s\n", cleared, name)
			return
		}
	}
	if err != nil {
		HandleError(err)
	}
	fmt.Printf("Removed freedisk %s\n", name)
}
