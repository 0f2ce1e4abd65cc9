package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/illarion/freedisk/internal/logger"
)

// UnmountTimeout bounds each unmount attempt
const UnmountTimeout = 30 * time.Second

var (
	ErrCommandNotFound = errors.New("mount command not found")
	ErrUnmount         = errors.New("failed to unmount")
)

// Runner executes external commands
type Runner interface {
	// Run runs name to completion and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// Spawn starts name detached with output appended to logPath and
	// returns its pid without waiting for it.
	Spawn(name string, args []string, logPath string) (int, error)
	// LookPath resolves name like exec.LookPath.
	LookPath(name string) (string, error)
}

// Options describe a freenetfs invocation
type Options struct {
	Command       string
	Mountpoint    string
	FCPHost       string
	FCPPort       int
	Verbosity     int
	Debug         bool
	Multithreaded bool
	LogPath       string
}

// Args returns the freenetfs command line arguments for opts
func Args(opts Options) []string {
	args := []string{
		"--mountpoint", opts.Mountpoint,
		"--fcp-host", opts.FCPHost,
		"--fcp-port", strconv.Itoa(opts.FCPPort),
		"--verbosity", strconv.Itoa(opts.Verbosity),
	}
	if opts.Debug {
		args = append(args, "--debug")
	}
	if opts.Multithreaded {
		args = append(args, "--multithreaded")
	}
	return args
}

// Start launches freenetfs and returns its pid
func Start(ctx context.Context, r Runner, opts Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := r.LookPath(opts.Command)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrCommandNotFound, opts.Command)
	}

	args := Args(opts)
	logger.Info("starting %s %s", path, strings.Join(args, " "))
	pid, err := r.Spawn(path, args, opts.LogPath)
	if err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", opts.Command, err)
	}
	logger.Debug("%s running as pid %d, log %s", opts.Command, pid, opts.LogPath)
	return pid, nil
}

// Unmount detaches the FUSE filesystem at mountpoint
func Unmount(ctx context.Context, r Runner, mountpoint string) error {
	var errs []error
	for _, argv := range [][]string{
		{"umount", mountpoint},
		{"fusermount", "-u", mountpoint},
	} {
		if err := run(ctx, r, argv); err != nil {
			logger.Debug("%s: %v", argv[0], err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Info("unmounted %s with %s", mountpoint, argv[0])
		return nil
	}
	return fmt.Errorf("%w %s: %w", ErrUnmount, mountpoint, errors.Join(errs...))
}

func run(ctx context.Context, r Runner, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, UnmountTimeout)
	defer cancel()

	out, err := r.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// ExecRunner runs commands on the host
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (ExecRunner) Spawn(name string, args []string, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to open log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(name, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}
