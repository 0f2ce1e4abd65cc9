package cmd

import (
	"fmt"

	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/keyring"
	"github.com/illarion/freedisk/internal/logger"
)

// Passwd changes the config password. An empty password decrypts the file.
func Passwd(opts Options) {
	j, store := OpenLockedConfig(opts.ConfigPath)
	defer j.Close()

	newPassword, err := prompt.PasswordConfirm("New password")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(newPassword)

	if len(newPassword) == 0 {
		logger.Warn("empty password, config will be stored unencrypted")
	}
	if err := store.SetPassword(newPassword); err != nil {
		HandleError(err)
	}

	if keyring.HasPassword(store.Path()) {
		if len(newPassword) == 0 {
			if err := keyring.DeletePassword(store.Path()); err == nil {
				fmt.Println("Password removed from keyring")
			}
		} else if err := keyring.SavePassword(store.Path(), string(newPassword)); err == nil {
			fmt.Println("Keyring updated with new password")
		}
	}

	fmt.Printf("password changed successfully, config is %s\n", store.Mode())
}
