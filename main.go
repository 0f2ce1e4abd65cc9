package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/illarion/freedisk/cmd"
	"github.com/illarion/freedisk/internal/logger"
)

const (
	envConfig         = "FREEDISK_CONFIG"
	defaultConfigFile = "~/.freediskrc"
)

// flagError marks command line parse failures, which exit with status 2
type flagError struct {
	err error
}

func (e *flagError) Error() string { return e.err.Error() }
func (e *flagError) Unwrap() error { return e.err }

var opts cmd.Options

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Type '%s -h' for help\n", root.Name())

		var fe *flagError
		if errors.As(err, &fe) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "freedisk [options] <command> [<args>]",
		Short: "Manage a freenetfs filesystem",
		Long: `freedisk manages freedisks: directories inside a freenetfs mount that are
stored in and synced with freenet.

Environment variables:
  FREEDISK_CONFIG     set this in place of '-c'
  FREEDISK_PASSWORD   config password, skips the prompt
  FCP_HOST, FCP_PORT  defaults for a new config`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			logger.SetVerbose(opts.Verbose)
			logger.SetDebug(opts.Debug)

			path, err := homedir.Expand(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("invalid config path %s: %w", opts.ConfigPath, err)
			}
			opts.ConfigPath = path
			logger.Debug("using config %s", path)
			return nil
		},
		RunE: func(c *cobra.Command, args []string) error {
			return errors.New("no command given")
		},
	}

	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &flagError{err: err}
	})

	configDefault := defaultConfigFile
	if env := os.Getenv(envConfig); env != "" {
		configDefault = env
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", configDefault, "config file (env FREEDISK_CONFIG)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&opts.Debug, "debug", "d", false, "debug output, also passed to freenetfs")
	flags.BoolVarP(&opts.Multithreaded, "multithreaded", "m", false, "run freenetfs multithreaded")
	flags.DurationVarP(&opts.Timeout, "timeout", "t", 0, "how long to wait for freenetfs (default from config)")

	root.AddCommand(
		newInitCmd(),
		newMountCmd(),
		newUnmountCmd(),
		newNewCmd(),
		newAddCmd(),
		newDelCmd(),
		newUpdateCmd(),
		newCommitCmd(),
		newListCmd(),
		newStatusCmd(),
		newCmdCmd(),
		newPasswdCmd(),
		newKeyringCmd(),
	)

	return root
}

// diskName requires exactly one <freediskname> argument
func diskName(c *cobra.Command, args []string) error {
	switch {
	case len(args) == 0:
		return fmt.Errorf("%s: missing argument <freediskname>", c.Name())
	case len(args) > 1:
		return fmt.Errorf("%s: too many arguments", c.Name())
	}
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Aliases: []string{"setup"},
		Short:   "Edit configuration interactively",
		Args:    cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			cmd.Init(opts)
		},
	}
}

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mount",
		Aliases: []string{"start"},
		Short:   "Mount the freenetfs and attach configured freedisks",
		Args:    cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			cmd.Mount(c.Context(), opts)
		},
	}
}

func newUnmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "unmount",
		Aliases: []string{"umount", "stop"},
		Short:   "Unmount the freenetfs",
		Args:    cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			cmd.Unmount(c.Context(), opts)
		},
	}
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Create a new freedisk with a freshly generated keypair",
		Args:  diskName,
		Run: func(c *cobra.Command, args []string) {
			cmd.New(c.Context(), opts, args[0])
		},
	}
}

func newAddCmd() *cobra.Command {
	var askPassword bool
	c := &cobra.Command{
		Use:   "add <name> <URI>",
		Short: "Add an existing freedisk by its key URI",
		Args: func(c *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				return fmt.Errorf("add: missing argument <freediskname>")
			case 1:
				return fmt.Errorf("add: missing URI")
			case 2:
				return nil
			}
			return fmt.Errorf("add: too many arguments")
		},
		Run: func(c *cobra.Command, args []string) {
			cmd.Add(c.Context(), opts, args[0], args[1], askPassword)
		},
	}
	c.Flags().BoolVarP(&askPassword, "password", "p", false, "prompt for the disk password")
	return c
}

func newDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <name>",
		Short: "Remove a freedisk",
		Args:  diskName,
		Run: func(c *cobra.Command, args []string) {
			cmd.Del(c.Context(), opts, args[0])
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <name>",
		Short: "Sync a freedisk from freenet",
		Args:  diskName,
		Run: func(c *cobra.Command, args []string) {
			cmd.Update(opts, args[0])
		},
	}
}

func newCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <name>",
		Short: "Commit a freedisk into freenet",
		Args:  diskName,
		Run: func(c *cobra.Command, args []string) {
			cmd.Commit(opts, args[0])
		},
	}
}

func newListCmd() *cobra.Command {
	var showPasswords bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List configured freedisks",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			cmd.List(opts, showPasswords)
		},
	}
	c.Flags().BoolVar(&showPasswords, "show-passwords", false, "print disk passwords in clear")
	return c
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show the freenetfs status of a freedisk",
		Args:  diskName,
		Run: func(c *cobra.Command, args []string) {
			cmd.Status(opts, args[0])
		},
	}
}

func newCmdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cmd <words...>",
		Short: "Run a raw freenetfs command, for testing",
		Args:  cobra.MinimumNArgs(1),
		Run: func(c *cobra.Command, args []string) {
			cmd.Command(c.Context(), opts, args)
		},
	}
}

func newPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the config password",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			cmd.Passwd(opts)
		},
	}
}

func newKeyringCmd() *cobra.Command {
	keyringCmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the config password stored in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return errors.New("keyring: missing subcommand (save, delete, status)")
		},
	}
	keyringCmd.AddCommand(
		&cobra.Command{
			Use:   "save",
			Short: "Save the config password to the keyring",
			Args:  cobra.NoArgs,
			Run: func(c *cobra.Command, args []string) {
				cmd.KeyringSave(opts)
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the config password from the keyring",
			Args:  cobra.NoArgs,
			Run: func(c *cobra.Command, args []string) {
				cmd.KeyringDelete(opts)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether a password is stored",
			Args:  cobra.NoArgs,
			Run: func(c *cobra.Command, args []string) {
				cmd.KeyringStatus(opts)
			},
		},
	)
	return keyringCmd
}
