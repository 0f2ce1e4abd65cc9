package mount

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls    []call
	fail     map[string]error
	spawned  call
	logPath  string
	notFound bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name, args})
	if err := f.fail[name]; err != nil {
		return []byte(name + " said no\n"), err
	}
	return nil, nil
}

func (f *fakeRunner) Spawn(name string, args []string, logPath string) (int, error) {
	f.spawned = call{name, args}
	f.logPath = logPath
	return 4242, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.notFound {
		return "", errors.New("not in PATH")
	}
	return "/usr/bin/" + name, nil
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "plain",
			opts: Options{Mountpoint: "/mnt/f", FCPHost: "127.0.0.1", FCPPort: 9481, Verbosity: 3},
			want: []string{"--mountpoint", "/mnt/f", "--fcp-host", "127.0.0.1", "--fcp-port", "9481", "--verbosity", "3"},
		},
		{
			name: "debug multithreaded",
			opts: Options{Mountpoint: "/mnt/f", FCPHost: "node", FCPPort: 1, Verbosity: 6, Debug: true, Multithreaded: true},
			want: []string{"--mountpoint", "/mnt/f", "--fcp-host", "node", "--fcp-port", "1", "--verbosity", "6", "--debug", "--multithreaded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Args(tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStart(t *testing.T) {
	r := &fakeRunner{}
	opts := Options{Command: "freenetfs", Mountpoint: "/mnt/f", FCPHost: "h", FCPPort: 2, LogPath: "/tmp/log"}

	pid, err := Start(context.Background(), r, opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}
	if r.spawned.name != "/usr/bin/freenetfs" {
		t.Errorf("Spawned %q", r.spawned.name)
	}
	if !reflect.DeepEqual(r.spawned.args, Args(opts)) {
		t.Errorf("Spawned with %v", r.spawned.args)
	}
	if r.logPath != "/tmp/log" {
		t.Errorf("Log path = %q", r.logPath)
	}
}

func TestStartMissingCommand(t *testing.T) {
	r := &fakeRunner{notFound: true}
	_, err := Start(context.Background(), r, Options{Command: "freenetfs"})
	if !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("Expected ErrCommandNotFound, got %v", err)
	}
	if r.spawned.name != "" {
		t.Error("Nothing should be spawned")
	}
}

func TestUnmount(t *testing.T) {
	t.Run("umount succeeds", func(t *testing.T) {
		r := &fakeRunner{}
		if err := Unmount(context.Background(), r, "/mnt/f"); err != nil {
			t.Fatalf("Unmount failed: %v", err)
		}
		if len(r.calls) != 1 || r.calls[0].name != "umount" {
			t.Errorf("Unexpected calls: %+v", r.calls)
		}
	})

	t.Run("falls back to fusermount", func(t *testing.T) {
		r := &fakeRunner{fail: map[string]error{"umount": errors.New("exit status 1")}}
		if err := Unmount(context.Background(), r, "/mnt/f"); err != nil {
			t.Fatalf("Unmount failed: %v", err)
		}
		want := []call{{"umount", []string{"/mnt/f"}}, {"fusermount", []string{"-u", "/mnt/f"}}}
		if !reflect.DeepEqual(r.calls, want) {
			t.Errorf("Calls = %+v, want %+v", r.calls, want)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		r := &fakeRunner{fail: map[string]error{
			"umount":     errors.New("exit status 1"),
			"fusermount": errors.New("exit status 1"),
		}}
		err := Unmount(context.Background(), r, "/mnt/f")
		if !errors.Is(err, ErrUnmount) {
			t.Fatalf("Expected ErrUnmount, got %v", err)
		}
		if !strings.Contains(err.Error(), "fusermount said no") {
			t.Errorf("Error should carry command output: %v", err)
		}
	})
}

func TestExecRunnerSpawnWritesLog(t *testing.T) {
	sh, err := ExecRunner{}.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	logPath := filepath.Join(t.TempDir(), "mount.log")

	pid, err := ExecRunner{}.Spawn(sh, []string{"-c", "echo hello"}, logPath)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if pid <= 0 {
		t.Errorf("Unexpected pid %d", pid)
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Log file should exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Log mode = %v, want 0600", info.Mode().Perm())
	}
}
