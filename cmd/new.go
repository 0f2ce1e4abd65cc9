package cmd

import (
	"context"
	"fmt"

	"github.com/illarion/freedisk/internal/config"
	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/security"
)

// New creates a freedisk with a fresh key pair
func New(ctx context.Context, opts Options, name string) {
	if err := security.ValidateDiskName(name); err != nil {
		HandleError(err)
	}

	j, store := OpenLockedConfig(opts.ConfigPath)
	defer j.Close()

	if _, ok := store.GetDisk(name); ok {
		HandleError(fmt.Errorf("%w: %s", config.ErrDuplicateName, name))
	}

	passwd, err := prompt.PasswordConfirm("Encrypt disk with password")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(passwd)

	disk, err := NewController(store, j, opts).New(ctx, name, string(passwd))
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Created freedisk %s\n", disk.Name)
	fmt.Printf("  uri=%s\n", disk.URI)
}
