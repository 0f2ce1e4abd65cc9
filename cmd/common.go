package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/illarion/freedisk/internal/config"
	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/freedisk"
	"github.com/illarion/freedisk/internal/journal"
	"github.com/illarion/freedisk/internal/keyring"
	"github.com/illarion/freedisk/internal/logger"
	"github.com/illarion/freedisk/internal/mount"
	"github.com/illarion/freedisk/internal/security"
	"github.com/illarion/freedisk/internal/terminal"
)

// EnvPassword supplies the config password without prompting
const EnvPassword = "FREEDISK_PASSWORD"

// prompt is shared so buffered stdin survives across questions
var prompt = terminal.New()

// Options carries the global flags
type Options struct {
	ConfigPath    string
	Verbose       bool
	Debug         bool
	Multithreaded bool
	// Timeout overrides the configured mount timeout when positive.
	Timeout time.Duration
}

// PasswordSource tells where the config password came from
type PasswordSource int

const (
	SourceNone PasswordSource = iota
	SourceEnv
	SourceKeyring
	SourcePrompt
)

// RequireConfig exits unless the config file exists
func RequireConfig(path string) {
	_, err := os.Stat(path)
	if err == nil {
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Config file %s does not exist\n", path)
		fmt.Fprintf(os.Stderr, "Run 'freedisk init' to create it\n")
		os.Exit(1)
	}
	HandleError(err)
}

// isSealed peeks at the file header without decrypting anything
func isSealed(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(crypto.Magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return crypto.IsSealed(head)
}

// LoadConfig opens the config file, unlocking an encrypted one with
// FREEDISK_PASSWORD, the OS keyring or the terminal, in that order.
// A missing file is created with defaults.
func LoadConfig(path string) (*config.Store, PasswordSource, error) {
	var opts config.Options
	source := SourceNone

	if isSealed(path) {
		if env := os.Getenv(EnvPassword); env != "" {
			opts.Password = []byte(env)
			source = SourceEnv
		} else if stored, err := keyring.GetPassword(path); err == nil && stored != "" {
			opts.Password = []byte(stored)
			source = SourceKeyring
		}

		opts.Prompt = func(attempt int) ([]byte, error) {
			switch {
			case attempt == 1 && source == SourceKeyring:
				logger.Warn("password stored in keyring does not open %s", path)
			case attempt == 1 && source == SourceEnv:
				logger.Warn("%s does not open %s", EnvPassword, path)
			case attempt > 1:
				fmt.Fprintln(os.Stderr, "Wrong password, please try again")
			}
			source = SourcePrompt
			return prompt.Password("Freedisk config password")
		}
	}

	store, err := config.Open(path, opts)
	crypto.ClearBytes(opts.Password)
	if err != nil {
		return nil, SourceNone, err
	}
	logger.Debug("loaded %s config %s", store.Mode(), path)
	return store, source, nil
}

// OpenConfig is LoadConfig for commands that need an existing config.
// It exits on error and offers to remember a typed password.
func OpenConfig(path string) *config.Store {
	RequireConfig(path)

	store, source, err := LoadConfig(path)
	if err != nil {
		HandleError(err)
	}
	offerIfTyped(path, store, source)
	return store
}

// LockConfig takes the journal lock and only then loads the config, so
// the store holds every change made by the previous lock holder. The
// caller closes the journal to release the lock.
func LockConfig(path string) (*journal.Journal, *config.Store, PasswordSource, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, SourceNone, err
	}
	j, err := journal.Open(path+".journal", journal.DefaultLockTimeout)
	if err != nil {
		return nil, nil, SourceNone, err
	}
	store, source, err := LoadConfig(path)
	if err != nil {
		j.Close()
		return nil, nil, SourceNone, err
	}
	return j, store, source, nil
}

// OpenLockedConfig is LockConfig for commands that change an existing
// config. It exits on error.
func OpenLockedConfig(path string) (*journal.Journal, *config.Store) {
	RequireConfig(path)

	j, store, source, err := LockConfig(path)
	if err != nil {
		HandleError(err)
	}
	offerIfTyped(path, store, source)
	return j, store
}

func offerIfTyped(path string, store *config.Store, source PasswordSource) {
	if source != SourcePrompt {
		return
	}
	password := store.Password()
	OfferToSavePassword(path, password)
	crypto.ClearBytes(password)
}

// OfferToSavePassword asks whether to store a typed password in the keyring
func OfferToSavePassword(configPath string, password []byte) {
	if len(password) == 0 || !terminal.IsTerminal() {
		return
	}
	save, err := prompt.YesNo("Save password in the OS keyring", false)
	if err != nil || !save {
		return
	}
	if err := keyring.SavePassword(configPath, string(password)); err != nil {
		logger.Warn("failed to save to keyring: %v", err)
		return
	}
	fmt.Println("Password saved to keyring")
}

// OpenJournal opens the operation journal next to the config for commands
// that only read it. Commands that change the config use OpenLockedConfig.
func OpenJournal(configPath string) *journal.Journal {
	j, err := journal.Open(configPath+".journal", journal.DefaultLockTimeout)
	if err != nil {
		HandleError(err)
	}
	return j
}

// NewController wires a disk controller to the store and journal
func NewController(store *config.Store, j *journal.Journal, opts Options) *freedisk.Controller {
	timeout := store.MountTimeout()
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctrlOpts := freedisk.Options{Timeout: timeout}
	if j != nil {
		ctrlOpts.Journal = j
	}
	return freedisk.NewController(afero.NewOsFs(), store.Mountpoint(), store, ctrlOpts)
}

// maskPassword hides a disk password unless show is set
func maskPassword(passwd string, show bool) string {
	switch {
	case show:
		return passwd
	case passwd == "":
		return "(none)"
	default:
		return "********"
	}
}

// HandleError prints err in user terms and exits with status 1
func HandleError(err error) {
	switch {
	case errors.Is(err, config.ErrDecryption):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "If you truly can't remember the password, your only")
		fmt.Fprintln(os.Stderr, "option now is to delete the config file and start again")
	case errors.Is(err, config.ErrPasswordRequired):
		fmt.Fprintf(os.Stderr, "Error: config is encrypted and no password was given\n")
		fmt.Fprintf(os.Stderr, "Set %s or run from a terminal\n", EnvPassword)
	case errors.Is(err, freedisk.ErrNotMounted):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Is your freenetfs mounted? Run 'freedisk mount' first\n")
	case errors.Is(err, freedisk.ErrMountTimeout):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "freenetfs did not respond; check the mount log or raise --timeout\n")
	case errors.Is(err, freedisk.ErrAlreadyExists), errors.Is(err, config.ErrDuplicateName):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Use 'freedisk list' to see configured freedisks\n")
	case errors.Is(err, freedisk.ErrNotFound), errors.Is(err, config.ErrNotFound):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	case errors.Is(err, journal.ErrBusy):
		fmt.Fprintf(os.Stderr, "Error: another freedisk command is running\n")
	case errors.Is(err, security.ErrEmptyName):
		fmt.Fprintf(os.Stderr, "Error: missing argument <freediskname>\n")
	case errors.Is(err, mount.ErrCommandNotFound):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Install freenetfs or set mountCommand in the config\n")
	case errors.Is(err, terminal.ErrPasswordMismatch):
		fmt.Fprintf(os.Stderr, "Error: passwords do not match\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}
