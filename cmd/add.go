package cmd

import (
	"context"
	"fmt"

	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/fcpuri"
)

// Add registers an existing freedisk by its URI
func Add(ctx context.Context, opts Options, name, uri string, askPassword bool) {
	j, store := OpenLockedConfig(opts.ConfigPath)
	defer j.Close()

	var passwd []byte
	if askPassword {
		var err error
		passwd, err = prompt.PasswordConfirm("Disk password")
		if err != nil {
			HandleError(err)
		}
		defer crypto.ClearBytes(passwd)
	}

	disk, err := NewController(store, j, opts).Add(ctx, name, uri, string(passwd))
	if err != nil {
		HandleError(err)
	}

	kind := "public"
	if fcpuri.IsPrivate(uri) {
		kind = "private"
	}
	fmt.Printf("Added freedisk %s (%s key)\n", disk.Name, kind)
}
