// Package mount starts and stops the freenetfs FUSE process.
//
// freenetfs is started detached in its own session with output appended to
// a log file next to the config, so it outlives the freedisk command.
// Unmounting tries umount first and falls back to fusermount -u.
package mount
