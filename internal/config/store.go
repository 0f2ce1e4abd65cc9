package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/illarion/freedisk/internal/crypto"
	"github.com/illarion/freedisk/internal/security"
)

const (
	DefaultFCPHost      = "127.0.0.1"
	DefaultFCPPort      = 9481
	DefaultVerbosity    = VerbosityError
	DefaultMountCommand = "freenetfs"
	DefaultMountTimeout = 30 * time.Second
	DefaultMountDir     = "freedisk"

	// MaxPasswordAttempts is how many prompted passwords Open tries before giving up.
	MaxPasswordAttempts = 3

	FilePermSecure = 0600
)

// FCP verbosity levels understood by the freenetfs mount
const (
	VerbositySilent = iota
	VerbosityFatal
	VerbosityCritical
	VerbosityError
	VerbosityInfo
	VerbosityDetail
	VerbosityDebug
)

// VerbosityNames indexes level names by verbosity value.
var VerbosityNames = []string{"SILENT", "FATAL", "CRITICAL", "ERROR", "INFO", "DETAIL", "DEBUG"}

var (
	ErrDuplicateName    = errors.New("disk already exists")
	ErrNotFound         = errors.New("no such disk")
	ErrDecryption       = errors.New("cannot decrypt config file")
	ErrPasswordRequired = errors.New("password required")
	ErrCorrupt          = errors.New("config file is corrupt")
	ErrInvalidVerbosity = errors.New("verbosity must be between 0 and 6")
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
)

// Mode tells how the config file is persisted.
type Mode int

const (
	// ModePlain stores the document in clear text. It is only ever selected
	// explicitly, by having no password.
	ModePlain Mode = iota
	// ModeEncrypted seals the document with the store password.
	ModeEncrypted
)

func (m Mode) String() string {
	if m == ModeEncrypted {
		return "encrypted"
	}
	return "unencrypted"
}

// Disk is one configured freedisk.
type Disk struct {
	Name    string `toml:"name"`
	URI     string `toml:"uri"`
	PrivURI string `toml:"privUri"`
	Passwd  string `toml:"passwd"`
}

type document struct {
	FCPHost      string `toml:"fcpHost"`
	FCPPort      int    `toml:"fcpPort"`
	FCPVerbosity int    `toml:"fcpVerbosity"`
	Mountpoint   string `toml:"mountpoint"`
	MountCommand string `toml:"mountCommand"`
	MountTimeout string `toml:"mountTimeout"`
	Disks        []Disk `toml:"disk"`
}

func (d document) clone() document {
	d.Disks = slices.Clone(d.Disks)
	return d
}

// PromptFunc asks the user for the config password. attempt starts at 1.
type PromptFunc func(attempt int) ([]byte, error)

// Options control how Open obtains the password of an encrypted file.
type Options struct {
	// Password is tried first, e.g. from the environment or the OS keyring.
	// It is also the password of a newly created file.
	Password []byte
	// Prompt is called up to MaxPasswordAttempts times when Password is
	// absent or wrong.
	Prompt PromptFunc
}

// Store is the freedisk configuration file. Every successful mutation is
// written to disk before the call returns.
type Store struct {
	mu       sync.RWMutex
	path     string
	password []byte
	doc      document
}

func defaults() document {
	d := document{
		FCPHost:      DefaultFCPHost,
		FCPPort:      DefaultFCPPort,
		FCPVerbosity: DefaultVerbosity,
		MountCommand: DefaultMountCommand,
		MountTimeout: DefaultMountTimeout.String(),
	}

	if host := os.Getenv("FCP_HOST"); host != "" {
		d.FCPHost = host
	}
	if port, err := strconv.Atoi(os.Getenv("FCP_PORT")); err == nil && port > 0 && port <= 65535 {
		d.FCPPort = port
	}

	if home, err := homedir.Dir(); err == nil {
		d.Mountpoint = filepath.Join(home, DefaultMountDir)
	} else {
		d.Mountpoint = DefaultMountDir
	}
	return d
}

// Open loads the config file at path, creating it with defaults when it
// does not exist. A sealed file is decrypted with opts.Password and then
// with up to MaxPasswordAttempts prompted passwords; running out of
// attempts returns ErrDecryption.
func Open(path string, opts Options) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.doc = defaults()
		if len(opts.Password) > 0 {
			s.password = slices.Clone(opts.Password)
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if crypto.IsSealed(data) {
		data, err = s.unseal(data, opts)
		if err != nil {
			return nil, err
		}
	}

	doc := defaults()
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if err := validateDisks(doc.Disks); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if err := validateScalars(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	s.doc = doc

	return s, nil
}

// unseal decrypts data and remembers the password that worked.
func (s *Store) unseal(data []byte, opts Options) ([]byte, error) {
	try := func(password []byte) ([]byte, bool, error) {
		plaintext, err := crypto.Open(password, data)
		if errors.Is(err, crypto.ErrAuthFailed) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
		}
		s.password = slices.Clone(password)
		return plaintext, true, nil
	}

	if len(opts.Password) > 0 {
		plaintext, ok, err := try(opts.Password)
		if err != nil || ok {
			return plaintext, err
		}
	}

	if opts.Prompt == nil {
		if len(opts.Password) > 0 {
			return nil, fmt.Errorf("%w: %s: wrong password", ErrDecryption, s.path)
		}
		return nil, ErrPasswordRequired
	}

	for attempt := 1; attempt <= MaxPasswordAttempts; attempt++ {
		password, err := opts.Prompt(attempt)
		if err != nil {
			return nil, err
		}
		plaintext, ok, err := try(password)
		crypto.ClearBytes(password)
		if err != nil || ok {
			return plaintext, err
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrDecryption, s.path)
}

func validateDisks(disks []Disk) error {
	seen := make(map[string]bool, len(disks))
	for _, d := range disks {
		if err := security.ValidateDiskName(d.Name); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// validateScalars applies the setter range checks to a hand-edited file.
func validateScalars(doc document) error {
	if doc.FCPPort < 1 || doc.FCPPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, doc.FCPPort)
	}
	if doc.FCPVerbosity < VerbositySilent || doc.FCPVerbosity > VerbosityDebug {
		return fmt.Errorf("%w: %d", ErrInvalidVerbosity, doc.FCPVerbosity)
	}
	return nil
}

// save writes the document to disk (caller must hold lock).
func (s *Store) save() error {
	data, err := toml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if len(s.password) > 0 {
		sealed, err := crypto.Seal(s.password, data)
		crypto.ClearBytes(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt config: %w", err)
		}
		data = sealed
	}

	return writeFileAtomic(s.path, data, FilePermSecure)
}

// writeFileAtomic replaces path so that a crash never leaves a truncated config.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// update applies fn and persists, restoring the previous state if the write fails.
func (s *Store) update(fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.doc.clone()
	if err := fn(&s.doc); err != nil {
		s.doc = prev
		return err
	}
	if err := s.save(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Mode reports whether the file is stored encrypted.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.password) > 0 {
		return ModeEncrypted
	}
	return ModePlain
}

// Password returns a copy of the current config password, nil in plain mode.
// The caller should clear it with crypto.ClearBytes.
func (s *Store) Password() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.password)
}

// SetPassword re-persists the whole store under password. An empty password
// switches the store to ModePlain.
func (s *Store) SetPassword(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.password
	if len(password) == 0 {
		s.password = nil
	} else {
		s.password = slices.Clone(password)
	}

	if err := s.save(); err != nil {
		s.password = prev
		return err
	}
	if prev != nil {
		crypto.ClearBytes(prev)
	}
	return nil
}

// AddDisk appends a disk record. Names are unique.
func (s *Store) AddDisk(name, uri, privURI, passwd string) error {
	if err := security.ValidateDiskName(name); err != nil {
		return err
	}
	return s.update(func(d *document) error {
		if slices.ContainsFunc(d.Disks, func(disk Disk) bool { return disk.Name == name }) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		d.Disks = append(d.Disks, Disk{Name: name, URI: uri, PrivURI: privURI, Passwd: passwd})
		return nil
	})
}

// GetDisk returns the disk record named name.
func (s *Store) GetDisk(name string) (Disk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.doc.Disks {
		if d.Name == name {
			return d, true
		}
	}
	return Disk{}, false
}

// Disks returns all disk records in the order they were added.
func (s *Store) Disks() []Disk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Disks)
}

// DelDisk removes the disk record named name.
func (s *Store) DelDisk(name string) error {
	return s.update(func(d *document) error {
		i := slices.IndexFunc(d.Disks, func(disk Disk) bool { return disk.Name == name })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		d.Disks = slices.Delete(d.Disks, i, i+1)
		return nil
	})
}

// FCPHost returns the FCP host of the freenet node.
func (s *Store) FCPHost() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.FCPHost
}

func (s *Store) SetFCPHost(host string) error {
	return s.update(func(d *document) error {
		d.FCPHost = host
		return nil
	})
}

// FCPPort returns the FCP port of the freenet node.
func (s *Store) FCPPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.FCPPort
}

func (s *Store) SetFCPPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return s.update(func(d *document) error {
		d.FCPPort = port
		return nil
	})
}

// FCPVerbosity returns the log level passed to the mount, 0 (SILENT) to 6 (DEBUG).
func (s *Store) FCPVerbosity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.FCPVerbosity
}

func (s *Store) SetFCPVerbosity(v int) error {
	if v < VerbositySilent || v > VerbosityDebug {
		return fmt.Errorf("%w: %d", ErrInvalidVerbosity, v)
	}
	return s.update(func(d *document) error {
		d.FCPVerbosity = v
		return nil
	})
}

// Mountpoint returns the freenetfs mount directory with ~ expanded.
func (s *Store) Mountpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if expanded, err := homedir.Expand(s.doc.Mountpoint); err == nil {
		return expanded
	}
	return s.doc.Mountpoint
}

func (s *Store) SetMountpoint(path string) error {
	return s.update(func(d *document) error {
		d.Mountpoint = path
		return nil
	})
}

// MountCommand returns the program that performs the freenetfs mount.
func (s *Store) MountCommand() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.MountCommand == "" {
		return DefaultMountCommand
	}
	return s.doc.MountCommand
}

func (s *Store) SetMountCommand(command string) error {
	return s.update(func(d *document) error {
		d.MountCommand = command
		return nil
	})
}

// MountTimeout bounds every wait on the mount. Unparseable values fall back
// to DefaultMountTimeout.
func (s *Store) MountTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	timeout, err := time.ParseDuration(s.doc.MountTimeout)
	if err != nil || timeout <= 0 {
		return DefaultMountTimeout
	}
	return timeout
}

func (s *Store) SetMountTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("mount timeout must be positive: %s", timeout)
	}
	return s.update(func(d *document) error {
		d.MountTimeout = timeout.String()
		return nil
	})
}

// Document renders the clear-text config with disk passwords masked.
func (s *Store) Document() ([]byte, error) {
	s.mu.RLock()
	doc := s.doc.clone()
	s.mu.RUnlock()

	for i := range doc.Disks {
		if doc.Disks[i].Passwd != "" {
			doc.Disks[i].Passwd = "********"
		}
	}
	return toml.Marshal(doc)
}
