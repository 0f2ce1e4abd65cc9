package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/keyring"
)

// KeyringSave saves the config password to the OS keyring
func KeyringSave(opts Options) {
	store := OpenConfig(opts.ConfigPath)

	password := store.Password()
	defer crypto.ClearBytes(password)
	if len(password) == 0 {
		fmt.Println("Config is not encrypted, nothing to save")
		return
	}

	if err := keyring.SavePassword(store.Path(), string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save to keyring: %s\n", err)
		os.Exit(1)
	}
	fmt.Println("Password saved to keyring")
}

// KeyringDelete removes the config password from the OS keyring
func KeyringDelete(opts Options) {
	RequireConfig(opts.ConfigPath)

	if err := keyring.DeletePassword(opts.ConfigPath); err != nil {
		fmt.Println("No password stored in keyring")
		return
	}
	fmt.Println("Password removed from keyring")
}

// KeyringStatus reports whether a password is stored for the config
func KeyringStatus(opts Options) {
	RequireConfig(opts.ConfigPath)

	if keyring.HasPassword(opts.ConfigPath) {
		fmt.Println("Password: stored in keyring")
	} else {
		fmt.Println("Password: not stored")
	}
}
