package freedisk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/illarion/freedisk/internal/config"
	"github.com/illarion/freedisk/internal/fcpuri"
	"github.com/illarion/freedisk/internal/journal"
	"github.com/illarion/freedisk/internal/logger"
	"github.com/illarion/freedisk/internal/security"
)

// Layout of the freenetfs mount
const (
	KeysDir     = "keys"
	UsrDir      = "usr"
	CmdsDir     = "cmds"
	PublicKey   = ".publickey"
	PrivateKey  = ".privatekey"
	Passwd      = ".passwd"
	CmdFile     = ".cmd"
	StatusFile  = ".status"
	DirPerm     = 0755
	PseudoPerm  = 0600
	keyRequest  = "freedisk_%s_%d"
	cmdUpdate   = "update"
	cmdCommit   = "commit"
	defaultPoll = 100 * time.Millisecond
)

var (
	ErrAlreadyExists = errors.New("freedisk already exists")
	ErrNotFound      = errors.New("no such freedisk")
	ErrNotMounted    = errors.New("freenetfs is not mounted")
	ErrMountTimeout  = errors.New("timed out waiting for freenetfs")
)

// Registry is the part of the config store the controller keeps in sync
// with the mount.
type Registry interface {
	AddDisk(name, uri, privURI, passwd string) error
	GetDisk(name string) (config.Disk, bool)
	DelDisk(name string) error
}

// Recorder journals multi-step operations.
type Recorder interface {
	Begin(kind journal.Kind, disk string) (string, error)
	Advance(id, step string) error
	Complete(id string) error
	ClearDisk(disk string) (int, error)
}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	// Timeout bounds every wait on a pseudo-file.
	Timeout time.Duration
	// PollInterval is the delay between checks while waiting.
	PollInterval time.Duration
	// Journal records operations; nil disables journaling.
	Journal Recorder
	// Now is used to timestamp key requests.
	Now func() time.Time
}

// Controller drives disk operations through the pseudo-files of a mounted
// freenetfs and mirrors the results into the config.
type Controller struct {
	fs           afero.Fs
	mountpoint   string
	registry     Registry
	journal      Recorder
	timeout      time.Duration
	pollInterval time.Duration
	now          func() time.Time
	watch        bool
}

// NewController creates a controller for the mount at mountpoint on fsys.
func NewController(fsys afero.Fs, mountpoint string, registry Registry, opts Options) *Controller {
	c := &Controller{
		fs:           fsys,
		mountpoint:   mountpoint,
		registry:     registry,
		journal:      opts.Journal,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
	}
	if c.timeout <= 0 {
		c.timeout = config.DefaultMountTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPoll
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.journal == nil {
		c.journal = nopRecorder{}
	}
	_, c.watch = fsys.(*afero.OsFs)
	return c
}

// Mountpoint returns the freenetfs mount directory
func (c *Controller) Mountpoint() string {
	return c.mountpoint
}

// DiskPath returns the directory of disk name inside the mount
func (c *Controller) DiskPath(name string) string {
	return filepath.Join(c.mountpoint, UsrDir, name)
}

func (c *Controller) pseudoFile(name, file string) string {
	return filepath.Join(c.DiskPath(name), file)
}

// Mounted reports whether the freenetfs keys directory is present
func (c *Controller) Mounted() bool {
	ok, _ := afero.DirExists(c.fs, filepath.Join(c.mountpoint, KeysDir))
	return ok
}

// WaitMounted waits for the freenetfs keys directory to appear
func (c *Controller) WaitMounted(ctx context.Context) error {
	keys := filepath.Join(c.mountpoint, KeysDir)
	return c.waitFor(ctx, keys, func() (bool, error) {
		return afero.DirExists(c.fs, keys)
	})
}

// checkNew verifies name is free both in the config and in the mount
func (c *Controller) checkNew(name string) error {
	if err := security.ValidateDiskName(name); err != nil {
		return err
	}
	if _, ok := c.registry.GetDisk(name); ok {
		return fmt.Errorf("%w: %s is already configured", ErrAlreadyExists, name)
	}
	if exists, _ := afero.Exists(c.fs, c.DiskPath(name)); exists {
		return fmt.Errorf("%w: %s seems to be already mounted", ErrAlreadyExists, name)
	}
	if !c.Mounted() {
		return fmt.Errorf("%w: no keys directory %s", ErrNotMounted, filepath.Join(c.mountpoint, KeysDir))
	}
	return nil
}

// New creates a freedisk with a freshly generated key pair. The disk is
// registered in the config only after all pseudo-files have been written.
func (c *Controller) New(ctx context.Context, name, passwd string) (config.Disk, error) {
	if err := c.checkNew(name); err != nil {
		return config.Disk{}, err
	}

	id, err := c.journal.Begin(journal.KindNew, name)
	if err != nil {
		return config.Disk{}, err
	}

	keyPath := filepath.Join(c.mountpoint, KeysDir, fmt.Sprintf(keyRequest, name, c.now().UnixMicro()))
	logger.Info("requesting key pair %s", keyPath)
	payload, err := c.readWhenReady(ctx, keyPath)
	if err != nil {
		return config.Disk{}, err
	}
	pub, priv, err := fcpuri.ParseKeyPair(string(payload))
	if err != nil {
		return config.Disk{}, err
	}
	c.advance(id, "keys generated")

	disk := config.Disk{Name: name, URI: pub, PrivURI: priv, Passwd: passwd}
	if err := c.createDiskDir(ctx, id, name); err != nil {
		return config.Disk{}, err
	}

	if err := c.writePseudo(name, PublicKey, pub); err != nil {
		return config.Disk{}, err
	}
	if err := c.writePseudo(name, PrivateKey, priv); err != nil {
		return config.Disk{}, err
	}
	if err := c.writePseudo(name, Passwd, passwd); err != nil {
		return config.Disk{}, err
	}
	c.advance(id, "keys written")

	if err := c.registry.AddDisk(disk.Name, disk.URI, disk.PrivURI, disk.Passwd); err != nil {
		return config.Disk{}, err
	}
	c.complete(id)

	return disk, nil
}

// Add creates a freedisk from an existing key. A private (insert) URI is
// written to .privatekey, any other URI to .publickey; freenetfs resolves
// the counterpart. The disk is then registered in the config.
func (c *Controller) Add(ctx context.Context, name, uri, passwd string) (config.Disk, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return config.Disk{}, fmt.Errorf("empty URI for %s", name)
	}
	if err := c.checkNew(name); err != nil {
		return config.Disk{}, err
	}

	id, err := c.journal.Begin(journal.KindAdd, name)
	if err != nil {
		return config.Disk{}, err
	}

	if err := c.createDiskDir(ctx, id, name); err != nil {
		return config.Disk{}, err
	}

	disk := config.Disk{Name: name, Passwd: passwd}
	target := PublicKey
	if fcpuri.IsPrivate(uri) {
		target = PrivateKey
		disk.PrivURI = uri
	} else {
		disk.URI = uri
	}
	if err := c.writePseudo(name, target, uri); err != nil {
		return config.Disk{}, err
	}
	if passwd != "" {
		if err := c.writePseudo(name, Passwd, passwd); err != nil {
			return config.Disk{}, err
		}
	}
	c.advance(id, "keys written")

	if err := c.registry.AddDisk(disk.Name, disk.URI, disk.PrivURI, disk.Passwd); err != nil {
		return config.Disk{}, err
	}
	c.complete(id)

	return disk, nil
}

// Attach recreates a configured disk inside a freshly mounted freenetfs.
// Empty keys and passwords are not written.
func (c *Controller) Attach(ctx context.Context, disk config.Disk) error {
	if exists, _ := afero.Exists(c.fs, c.DiskPath(disk.Name)); exists {
		return fmt.Errorf("%w: %s seems to be already mounted", ErrAlreadyExists, disk.Name)
	}

	id, err := c.journal.Begin(journal.KindAttach, disk.Name)
	if err != nil {
		return err
	}

	if err := c.createDiskDir(ctx, id, disk.Name); err != nil {
		return err
	}

	for _, f := range []struct{ file, value string }{
		{PublicKey, disk.URI},
		{PrivateKey, disk.PrivURI},
		{Passwd, disk.Passwd},
	} {
		if f.value == "" {
			continue
		}
		if err := c.writePseudo(disk.Name, f.file, f.value); err != nil {
			return err
		}
	}
	c.complete(id)

	return nil
}

// Del removes the disk from the config, then removes its (empty) directory
// from the mount. A directory that is already gone is not an error.
func (c *Controller) Del(ctx context.Context, name string) error {
	if _, ok := c.registry.GetDisk(name); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := c.journal.Begin(journal.KindDel, name)
	if err != nil {
		return err
	}

	if err := c.registry.DelDisk(name); err != nil {
		return err
	}
	c.advance(id, "unregistered")

	if err := c.fs.Remove(c.DiskPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", c.DiskPath(name), err)
	}

	c.complete(id)
	if _, err := c.journal.ClearDisk(name); err != nil {
		logger.Warn("failed to clear journal for %s: %v", name, err)
	}
	return nil
}

// Update asks freenetfs to sync the disk from freenet. It does not wait.
func (c *Controller) Update(name string) error {
	return c.sendCommand(name, cmdUpdate)
}

// Commit asks freenetfs to insert the disk into freenet. It does not wait.
func (c *Controller) Commit(name string) error {
	return c.sendCommand(name, cmdCommit)
}

func (c *Controller) sendCommand(name, command string) error {
	if err := c.requireDiskDir(name); err != nil {
		return err
	}
	logger.Info("%s: writing %q to %s", name, command, c.pseudoFile(name, CmdFile))
	return c.writePseudo(name, CmdFile, command)
}

// Status returns the contents of the disk's .status pseudo-file
func (c *Controller) Status(name string) (string, error) {
	if err := c.requireDiskDir(name); err != nil {
		return "", err
	}
	data, err := afero.ReadFile(c.fs, c.pseudoFile(name, StatusFile))
	if err != nil {
		return "", fmt.Errorf("failed to read status of %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Command runs an arbitrary freenetfs command by reading its encoded path
// under cmds/ and returns the result.
func (c *Controller) Command(ctx context.Context, args []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Mounted() {
		return nil, ErrNotMounted
	}
	command := strings.Join(args, " ")
	path := filepath.Join(c.mountpoint, CmdsDir, fcpuri.Base64Encode([]byte(command)))
	logger.Debug("command %q via %s", command, path)

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("command %q failed: %w", command, err)
	}
	return data, nil
}

func (c *Controller) requireDiskDir(name string) error {
	if err := security.ValidateDiskName(name); err != nil {
		return err
	}
	if ok, _ := afero.DirExists(c.fs, c.DiskPath(name)); !ok {
		if !c.Mounted() {
			return ErrNotMounted
		}
		return fmt.Errorf("%w: %s is not mounted", ErrNotFound, name)
	}
	return nil
}

// createDiskDir makes the disk directory and waits for freenetfs to
// populate it with pseudo-files.
func (c *Controller) createDiskDir(ctx context.Context, id, name string) error {
	dir := c.DiskPath(name)
	if err := c.fs.Mkdir(dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	c.advance(id, "directory created")

	priv := c.pseudoFile(name, PrivateKey)
	if err := c.waitFor(ctx, priv, func() (bool, error) {
		return afero.Exists(c.fs, priv)
	}); err != nil {
		return err
	}
	c.advance(id, "pseudo-files ready")
	return nil
}

func (c *Controller) writePseudo(name, file, value string) error {
	path := c.pseudoFile(name, file)
	logger.Debug("write %s", path)
	if err := afero.WriteFile(c.fs, path, []byte(value), PseudoPerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (c *Controller) advance(id, step string) {
	if err := c.journal.Advance(id, step); err != nil {
		logger.Warn("journal: %v", err)
	}
}

func (c *Controller) complete(id string) {
	if err := c.journal.Complete(id); err != nil {
		logger.Warn("journal: %v", err)
	}
}

type nopRecorder struct{}

func (nopRecorder) Begin(journal.Kind, string) (string, error) { return "", nil }
func (nopRecorder) Advance(string, string) error               { return nil }
func (nopRecorder) Complete(string) error                      { return nil }
func (nopRecorder) ClearDisk(string) (int, error)              { return 0, nil }
