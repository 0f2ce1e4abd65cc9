package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illarion/freedisk/internal/config"
	"github.com/illarion/freedisk/internal/journal"
)

// List prints the configured freedisks and any interrupted operations
func List(opts Options, showPasswords bool) {
	store := OpenConfig(opts.ConfigPath)
	printDisks(os.Stdout, store.Disks(), showPasswords)

	j := OpenJournal(opts.ConfigPath)
	defer j.Close()

	pending, err := j.Pending()
	if err != nil {
		HandleError(err)
	}
	printPending(os.Stdout, pending)
}

func printDisks(w io.Writer, disks []config.Disk, showPasswords bool) {
	if len(disks) == 0 {
		fmt.Fprintln(w, "No freedisks configured")
		return
	}

	fmt.Fprintln(w, "Configured freedisks:")
	for _, d := range disks {
		fmt.Fprintf(w, "  %s:\n", d.Name)
		fmt.Fprintf(w, "    uri=%s\n", d.URI)
		if d.PrivURI != "" {
			fmt.Fprintf(w, "    privUri=(present)\n")
		}
		fmt.Fprintf(w, "    passwd=%s\n", maskPassword(d.Passwd, showPasswords))
	}
}

func printPending(w io.Writer, pending []journal.Entry) {
	if len(pending) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Interrupted operations (check the mount, then 'freedisk del <name>' to clear):")
	for _, e := range pending {
		fmt.Fprintf(w, "  %s %s: stopped at %q (%s)\n", e.Kind, e.Disk, e.Step, e.Updated.Format(time.RFC3339))
	}
}
