package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/illarion/freedisk/internal/freedisk"
	"github.com/illarion/freedisk/internal/logger"
	"github.com/illarion/freedisk/internal/mount"
)

// Mount starts freenetfs, waits for it and attaches every configured disk
func Mount(ctx context.Context, opts Options) {
	j, store := OpenLockedConfig(opts.ConfigPath)
	defer j.Close()

	ctrl := NewController(store, j, opts)
	alreadyMounted := ctrl.Mounted()

	if alreadyMounted {
		fmt.Printf("Freenetfs already mounted at %s\n", ctrl.Mountpoint())
	} else {
		fmt.Println("starting freedisk service...")
		pid, err := mount.Start(ctx, mount.ExecRunner{}, mount.Options{
			Command:       store.MountCommand(),
			Mountpoint:    ctrl.Mountpoint(),
			FCPHost:       store.FCPHost(),
			FCPPort:       store.FCPPort(),
			Verbosity:     store.FCPVerbosity(),
			Debug:         opts.Debug,
			Multithreaded: opts.Multithreaded,
			LogPath:       opts.ConfigPath + ".mount.log",
		})
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("Mounting freenet fs at %s (pid %d)\n", ctrl.Mountpoint(), pid)

		fmt.Println("Waiting for disk to come up...")
		if err := ctrl.WaitMounted(ctx); err != nil {
			HandleError(err)
		}
	}

	disks := store.Disks()
	if len(disks) == 0 {
		fmt.Println("Freenetfs now mounted, no freedisks at present")
		return
	}
	fmt.Println("Freenetfs now mounted, adding existing disks...")

	for _, disk := range disks {
		err := ctrl.Attach(ctx, disk)
		if alreadyMounted && errors.Is(err, freedisk.ErrAlreadyExists) {
			logger.Info("%s is already attached", disk.Name)
			fmt.Printf("  %s (already attached)\n", disk.Name)
			continue
		}
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("  %s\n", disk.Name)
	}
}

// Unmount stops freenetfs
func Unmount(ctx context.Context, opts Options) {
	store := OpenConfig(opts.ConfigPath)

	mountpoint := store.Mountpoint()
	if err := mount.Unmount(ctx, mount.ExecRunner{}, mountpoint); err != nil {
		HandleError(err)
	}
	fmt.Printf("Unmounted %s\n", mountpoint)
}
