package freedisk

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/illarion/freedisk/internal/config"
	"github.com/illarion/freedisk/internal/fcpuri"
	"github.com/illarion/freedisk/internal/journal"
)

const (
	mount   = "/mnt/freenetfs"
	pubURI  = "SSK@pubkey,crypto,AQACAAE"
	privURI = "SSK@privkey,crypto,AQECAAE"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)

type memRegistry struct {
	mu    sync.Mutex
	disks []config.Disk
	onAdd func(config.Disk)
}

func (r *memRegistry) AddDisk(name, uri, privURI, passwd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.disks {
		if d.Name == name {
			return config.ErrDuplicateName
		}
	}
	d := config.Disk{Name: name, URI: uri, PrivURI: privURI, Passwd: passwd}
	if r.onAdd != nil {
		r.onAdd(d)
	}
	r.disks = append(r.disks, d)
	return nil
}

func (r *memRegistry) GetDisk(name string) (config.Disk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.disks {
		if d.Name == name {
			return d, true
		}
	}
	return config.Disk{}, false
}

func (r *memRegistry) DelDisk(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.disks {
		if d.Name == name {
			r.disks = append(r.disks[:i], r.disks[i+1:]...)
			return nil
		}
	}
	return config.ErrNotFound
}

func (r *memRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disks)
}

// newTestController returns a controller on an in-memory freenetfs with the
// keys and usr directories already present.
func newTestController(t *testing.T, timeout time.Duration) (*Controller, afero.Fs, *memRegistry) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, dir := range []string{KeysDir, UsrDir, CmdsDir} {
		if err := fs.MkdirAll(filepath.Join(mount, dir), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	reg := &memRegistry{}
	c := NewController(fs, mount, reg, Options{
		Timeout:      timeout,
		PollInterval: 2 * time.Millisecond,
		Now:          func() time.Time { return fixedNow },
	})
	return c, fs, reg
}

// runFreenetfs emulates freenetfs populating every new disk directory with
// its pseudo-files. .privatekey is created last.
func runFreenetfs(t *testing.T, fs afero.Fs) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.Cleanup(func() {
		cancel()
		<-done
	})

	go func() {
		defer close(done)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			entries, err := afero.ReadDir(fs, filepath.Join(mount, UsrDir))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				dir := filepath.Join(mount, UsrDir, e.Name())
				if ok, _ := afero.Exists(fs, filepath.Join(dir, PrivateKey)); ok {
					continue
				}
				_ = afero.WriteFile(fs, filepath.Join(dir, StatusFile), []byte("idle\n"), 0600)
				for _, f := range []string{PublicKey, Passwd, CmdFile, PrivateKey} {
					_ = afero.WriteFile(fs, filepath.Join(dir, f), nil, 0600)
				}
			}
		}
	}()
}

func keyRequestPath(name string) string {
	return filepath.Join(mount, KeysDir, fmt.Sprintf("freedisk_%s_%d", name, fixedNow.UnixMicro()))
}

// answerKeyRequest makes the key request for name readable after delay.
func answerKeyRequest(t *testing.T, fs afero.Fs, name string, delay time.Duration) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { <-done })
	go func() {
		defer close(done)
		time.Sleep(delay)
		payload := "freenet:" + pubURI + "/\nfreenet:" + privURI + "/\n"
		_ = afero.WriteFile(fs, keyRequestPath(name), []byte(payload), 0600)
	}()
}

func readPseudo(t *testing.T, fs afero.Fs, name, file string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, filepath.Join(mount, UsrDir, name, file))
	if err != nil {
		t.Fatalf("Failed to read %s/%s: %v", name, file, err)
	}
	return string(data)
}

func TestNewRegistersAfterPseudoFiles(t *testing.T) {
	c, fs, reg := newTestController(t, 2*time.Second)
	runFreenetfs(t, fs)
	answerKeyRequest(t, fs, "alice", 20*time.Millisecond)

	reg.onAdd = func(d config.Disk) {
		if got := readPseudo(t, fs, d.Name, Passwd); got != "secret" {
			t.Errorf(".passwd at registration = %q, want %q", got, "secret")
		}
		if got := readPseudo(t, fs, d.Name, PrivateKey); got != privURI {
			t.Errorf(".privatekey at registration = %q, want %q", got, privURI)
		}
	}

	disk, err := c.New(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := config.Disk{Name: "alice", URI: pubURI, PrivURI: privURI, Passwd: "secret"}
	if disk != want {
		t.Errorf("New returned %+v, want %+v", disk, want)
	}
	if got, ok := reg.GetDisk("alice"); !ok || got != want {
		t.Errorf("Registered %+v (found=%v), want %+v", got, ok, want)
	}
	if got := readPseudo(t, fs, "alice", PublicKey); got != pubURI {
		t.Errorf(".publickey = %q, want %q", got, pubURI)
	}
}

func TestNewTimesOutWithoutKeys(t *testing.T) {
	c, fs, reg := newTestController(t, 50*time.Millisecond)

	_, err := c.New(context.Background(), "alice", "")
	if !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("Expected ErrMountTimeout, got %v", err)
	}
	if reg.count() != 0 {
		t.Error("Config must be untouched after a timeout")
	}
	if ok, _ := afero.Exists(fs, c.DiskPath("alice")); ok {
		t.Error("Disk directory must not be created before keys are generated")
	}
}

func TestNewTimesOutWaitingForPseudoFiles(t *testing.T) {
	c, fs, reg := newTestController(t, 50*time.Millisecond)
	answerKeyRequest(t, fs, "alice", 0)

	_, err := c.New(context.Background(), "alice", "")
	if !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("Expected ErrMountTimeout, got %v", err)
	}
	if reg.count() != 0 {
		t.Error("Config must be untouched after a timeout")
	}
}

func TestNewMalformedKeyPair(t *testing.T) {
	c, fs, reg := newTestController(t, time.Second)
	if err := afero.WriteFile(fs, keyRequestPath("alice"), []byte("only one line"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := c.New(context.Background(), "alice", "")
	if !errors.Is(err, fcpuri.ErrMalformedKeyPair) {
		t.Fatalf("Expected ErrMalformedKeyPair, got %v", err)
	}
	if reg.count() != 0 {
		t.Error("Config must be untouched")
	}
}

func TestNewRejects(t *testing.T) {
	c, fs, reg := newTestController(t, 50*time.Millisecond)

	if err := fs.Mkdir(c.DiskPath("taken"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := c.New(context.Background(), "taken", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Existing directory: expected ErrAlreadyExists, got %v", err)
	}

	reg.disks = []config.Disk{{Name: "known", URI: pubURI}}
	if _, err := c.New(context.Background(), "known", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Configured disk: expected ErrAlreadyExists, got %v", err)
	}

	if _, err := c.New(context.Background(), "../escape", ""); err == nil {
		t.Error("Expected invalid name to be rejected")
	}

	if err := fs.RemoveAll(filepath.Join(mount, KeysDir)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.New(context.Background(), "bob", ""); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Without keys dir: expected ErrNotMounted, got %v", err)
	}
}

func TestNewCancelled(t *testing.T) {
	c, _, _ := newTestController(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.New(ctx, "alice", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrMountTimeout) {
		t.Error("Cancellation must not be reported as a timeout")
	}
}

func TestAddRoutesURIByKind(t *testing.T) {
	c, fs, reg := newTestController(t, 2*time.Second)
	runFreenetfs(t, fs)

	priv, err := c.Add(context.Background(), "mine", privURI, "pw")
	if err != nil {
		t.Fatalf("Add private failed: %v", err)
	}
	if priv.PrivURI != privURI || priv.URI != "" {
		t.Errorf("Private add returned %+v", priv)
	}
	if got := readPseudo(t, fs, "mine", PrivateKey); got != privURI {
		t.Errorf(".privatekey = %q, want %q", got, privURI)
	}
	if got := readPseudo(t, fs, "mine", Passwd); got != "pw" {
		t.Errorf(".passwd = %q, want %q", got, "pw")
	}

	pub, err := c.Add(context.Background(), "theirs", " "+pubURI+"\n", "")
	if err != nil {
		t.Fatalf("Add public failed: %v", err)
	}
	if pub.URI != pubURI || pub.PrivURI != "" {
		t.Errorf("Public add returned %+v", pub)
	}
	if got := readPseudo(t, fs, "theirs", PublicKey); got != pubURI {
		t.Errorf(".publickey = %q, want %q", got, pubURI)
	}
	if got := readPseudo(t, fs, "theirs", PrivateKey); got != "" {
		t.Errorf(".privatekey should be left to freenetfs, got %q", got)
	}

	if reg.count() != 2 {
		t.Errorf("Expected 2 registered disks, got %d", reg.count())
	}

	if _, err := c.Add(context.Background(), "empty", "  ", ""); err == nil {
		t.Error("Expected empty URI to be rejected")
	}
}

func TestAttach(t *testing.T) {
	c, fs, reg := newTestController(t, 2*time.Second)
	runFreenetfs(t, fs)

	disk := config.Disk{Name: "alice", URI: pubURI, Passwd: "secret"}
	if err := c.Attach(context.Background(), disk); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if got := readPseudo(t, fs, "alice", PublicKey); got != pubURI {
		t.Errorf(".publickey = %q, want %q", got, pubURI)
	}
	if got := readPseudo(t, fs, "alice", Passwd); got != "secret" {
		t.Errorf(".passwd = %q, want %q", got, "secret")
	}
	if got := readPseudo(t, fs, "alice", PrivateKey); got != "" {
		t.Errorf("Empty private key must not be written, got %q", got)
	}
	if reg.count() != 0 {
		t.Error("Attach must not touch the config")
	}

	if err := c.Attach(context.Background(), disk); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Second attach: expected ErrAlreadyExists, got %v", err)
	}
}

func TestDel(t *testing.T) {
	c, fs, reg := newTestController(t, time.Second)
	reg.disks = []config.Disk{{Name: "alice", URI: pubURI}, {Name: "gone", URI: pubURI}}
	if err := fs.Mkdir(c.DiskPath("alice"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := c.Del(context.Background(), "alice"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, ok := reg.GetDisk("alice"); ok {
		t.Error("alice should be removed from the config")
	}
	if ok, _ := afero.Exists(fs, c.DiskPath("alice")); ok {
		t.Error("alice directory should be removed")
	}

	if err := c.Del(context.Background(), "gone"); err != nil {
		t.Errorf("Del with missing directory failed: %v", err)
	}
	if err := c.Del(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCommitAndStatus(t *testing.T) {
	c, fs, _ := newTestController(t, time.Second)
	runFreenetfs(t, fs)
	if err := c.Attach(context.Background(), config.Disk{Name: "alice", URI: pubURI}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := c.Update("alice"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := readPseudo(t, fs, "alice", CmdFile); got != "update" {
		t.Errorf(".cmd = %q, want update", got)
	}
	if err := c.Commit("alice"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if got := readPseudo(t, fs, "alice", CmdFile); got != "commit" {
		t.Errorf(".cmd = %q, want commit", got)
	}

	status, err := c.Status("alice")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != "idle" {
		t.Errorf("Status = %q, want idle", status)
	}

	if err := c.Update("bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update of unknown disk: expected ErrNotFound, got %v", err)
	}
}

func TestCommand(t *testing.T) {
	c, fs, _ := newTestController(t, time.Second)
	path := filepath.Join(mount, CmdsDir, fcpuri.Base64Encode([]byte("status all")))
	if err := afero.WriteFile(fs, path, []byte("all good\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := c.Command(context.Background(), []string{"status", "all"})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if string(out) != "all good\n" {
		t.Errorf("Command output = %q", out)
	}

	if _, err := c.Command(context.Background(), []string{"unknown"}); err == nil {
		t.Error("Expected error for a command freenetfs does not answer")
	}
}

func TestWaitMounted(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewController(fs, mount, &memRegistry{}, Options{
		Timeout:      2 * time.Second,
		PollInterval: 2 * time.Millisecond,
	})
	if c.Mounted() {
		t.Fatal("Empty filesystem should not look mounted")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = fs.MkdirAll(filepath.Join(mount, KeysDir), 0755)
	}()
	if err := c.WaitMounted(context.Background()); err != nil {
		t.Fatalf("WaitMounted failed: %v", err)
	}
	if !c.Mounted() {
		t.Error("Expected Mounted after WaitMounted")
	}

	never := NewController(afero.NewMemMapFs(), mount, &memRegistry{}, Options{
		Timeout:      30 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	})
	err := never.WaitMounted(context.Background())
	if !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("Expected ErrMountTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), KeysDir) {
		t.Errorf("Timeout error should name the awaited path: %v", err)
	}
}

func TestJournalTracksOperations(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal"), journal.DefaultLockTimeout)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer j.Close()

	c, fs, _ := newTestController(t, 50*time.Millisecond)
	c.journal = j

	if _, err := c.New(context.Background(), "alice", ""); !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("Expected ErrMountTimeout, got %v", err)
	}
	pending, err := j.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Kind != journal.KindNew || pending[0].Disk != "alice" {
		t.Fatalf("Expected one pending new for alice, got %+v", pending)
	}

	runFreenetfs(t, fs)
	if err := c.Attach(context.Background(), config.Disk{Name: "bob", URI: pubURI}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	pending, err = j.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("Completed attach must not stay pending, got %+v", pending)
	}
}

func TestWaitMountedSlowPoll(t *testing.T) {
	// The second poll would land after the deadline, so the wait must sit
	// out the remaining time and look once more.
	fs := afero.NewMemMapFs()
	c := NewController(fs, mount, &memRegistry{}, Options{
		Timeout:      80 * time.Millisecond,
		PollInterval: time.Second,
	})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = fs.MkdirAll(filepath.Join(mount, KeysDir), 0755)
	}()
	if err := c.WaitMounted(context.Background()); err != nil {
		t.Fatalf("WaitMounted should see the mount at the deadline: %v", err)
	}

	never := NewController(afero.NewMemMapFs(), mount, &memRegistry{}, Options{
		Timeout:      50 * time.Millisecond,
		PollInterval: time.Second,
	})
	start := time.Now()
	err := never.WaitMounted(context.Background())
	if !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("Expected ErrMountTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Timed out after %s, before the 50ms deadline", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := never.WaitMounted(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWaitMountedOnDisk(t *testing.T) {
	dir := t.TempDir()
	c := NewController(afero.NewOsFs(), dir, &memRegistry{}, Options{
		Timeout:      2 * time.Second,
		PollInterval: time.Second,
	})
	if !c.watch {
		t.Fatal("OS filesystem should be watched")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = afero.NewOsFs().Mkdir(filepath.Join(dir, KeysDir), 0755)
	}()

	start := time.Now()
	if err := c.WaitMounted(context.Background()); err != nil {
		t.Fatalf("WaitMounted failed: %v", err)
	}
	// The watcher wakes the loop long before the next one-second poll.
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("WaitMounted took %s, expected an fsnotify wake-up", elapsed)
	}
}
