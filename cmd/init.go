package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/mitchellh/go-homedir"

	"github.com/illarion/freedisk/internal/config"
	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/keyring"
	"github.com/illarion/freedisk/internal/logger"
	"github.com/illarion/freedisk/internal/security"
	"github.com/illarion/freedisk/internal/terminal"
)

// Init creates or edits the config interactively. Every answer is saved
// as soon as it is given.
func Init(opts Options) {
	path := opts.ConfigPath
	j, store, _, err := LockConfig(path)
	if err != nil {
		HandleError(err)
	}
	defer j.Close()

	before, err := store.Document()
	if err != nil {
		HandleError(err)
	}
	mode := store.Mode()

	fmt.Println("Freedisk configuration")
	fmt.Println()
	fmt.Println("Your freedisk config will normally be stored in the file:")
	fmt.Printf("  %s\n", path)
	fmt.Println()

	if err := initPassword(prompt, store); err != nil {
		HandleError(err)
	}

	host, err := prompt.Line("Freenet FCP Hostname:", store.FCPHost())
	if err != nil {
		HandleError(err)
	}
	if err := store.SetFCPHost(host); err != nil {
		HandleError(err)
	}

	port, err := prompt.Int("Freenet FCP Port:", store.FCPPort(), 1, 65535)
	if err != nil {
		HandleError(err)
	}
	if err := store.SetFCPPort(port); err != nil {
		HandleError(err)
	}

	fmt.Println("Freenet verbosity:")
	fmt.Println("  (0=SILENT, 1=FATAL, 2=CRITICAL, 3=ERROR")
	fmt.Println("   4=INFO, 5=DETAIL, 6=DEBUG)")
	verbosity, err := prompt.Int("Verbosity:", store.FCPVerbosity(), config.VerbositySilent, config.VerbosityDebug)
	if err != nil {
		HandleError(err)
	}
	if err := store.SetFCPVerbosity(verbosity); err != nil {
		HandleError(err)
	}

	mountpoint, err := askMountpoint(prompt, store.Mountpoint())
	if err != nil {
		HandleError(err)
	}
	if err := store.SetMountpoint(mountpoint); err != nil {
		HandleError(err)
	}

	after, err := store.Document()
	if err != nil {
		HandleError(err)
	}

	fmt.Println()
	if mode != store.Mode() {
		fmt.Printf("Config file is now %s\n", store.Mode())
	}
	if diff := config.Diff(filepath.Base(path), before, after); diff != "" {
		fmt.Print(diff)
		fmt.Println()
	}
	fmt.Println("Freedisk configuration successfully changed")
}

// initPassword offers to set or change the config password
func initPassword(p *terminal.Prompter, store *config.Store) error {
	question := "Do you wish to encrypt this file"
	if store.Mode() == config.ModeEncrypted {
		question = "Do you wish to change your config password"
	}
	change, err := p.YesNo(question, false)
	if err != nil || !change {
		return err
	}

	password, err := p.PasswordConfirm("New password")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(password)

	if len(password) == 0 {
		logger.Warn("empty password, config will be stored unencrypted")
	}
	if err := store.SetPassword(password); err != nil {
		return err
	}
	fmt.Println("Password successfully changed")

	if len(password) == 0 {
		if keyring.HasPassword(store.Path()) {
			_ = keyring.DeletePassword(store.Path())
		}
		return nil
	}
	if keyring.HasPassword(store.Path()) {
		if err := keyring.SavePassword(store.Path(), string(password)); err == nil {
			fmt.Println("Keyring updated with new password")
		}
		return nil
	}
	OfferToSavePassword(store.Path(), password)
	return nil
}

// askMountpoint asks until the answer names an existing directory
func askMountpoint(p *terminal.Prompter, current string) (string, error) {
	for {
		answer, err := p.Line("Mountpoint", current)
		if err != nil {
			return "", err
		}
		expanded, err := homedir.Expand(answer)
		if err != nil {
			fmt.Printf("Cannot expand '%s': %s\n", answer, err)
			continue
		}

		abs, err := security.ValidateMountpoint(expanded)
		switch {
		case err == nil:
			return abs, nil
		case errors.Is(err, fs.ErrNotExist):
			fmt.Printf("No such directory '%s'\n", expanded)
		case errors.Is(err, security.ErrNotDirectory):
			fmt.Printf("%s is not a directory\n", expanded)
		default:
			fmt.Printf("Invalid mountpoint '%s': %s\n", expanded, err)
		}
	}
}
