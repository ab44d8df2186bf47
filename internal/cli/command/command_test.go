package command

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cypressdb/cypress-go/internal/storage/datadir"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"cypress-admin"}, args...))
	return out.String(), err
}

func dataRoots(t *testing.T) (string, string) {
	t.Helper()
	logRoot := filepath.Join(t.TempDir(), "log")
	snapRoot := filepath.Join(t.TempDir(), "snap")
	for _, root := range []string{logRoot, snapRoot} {
		if _, err := datadir.Resolve(root, true); err != nil {
			t.Fatalf("Resolve(%s): %v", root, err)
		}
	}
	return logRoot, snapRoot
}

func TestAppCommands(t *testing.T) {
	app := App()
	want := []string{"info", "verify", "snapshot", "purge", "init"}
	for _, name := range want {
		if app.Command(name) == nil {
			t.Fatalf("command %q not registered", name)
		}
	}
}

func TestVerifyCommand(t *testing.T) {
	logRoot, snapRoot := dataRoots(t)

	out, err := runApp(t, "--log-dir", logRoot, "--snap-dir", snapRoot, "verify")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("verify output = %q", out)
	}
}

func TestVerifyCommandRejectsForeignFiles(t *testing.T) {
	logRoot, snapRoot := dataRoots(t)

	bad := filepath.Join(logRoot, datadir.VersionDirName, datadir.SnapName(1))
	if err := os.WriteFile(bad, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := runApp(t, "--log-dir", logRoot, "--snap-dir", snapRoot, "verify"); err == nil {
		t.Fatal("verify should fail with snapshot file in log dir")
	}
}

func TestInfoCommandEmptyDirs(t *testing.T) {
	logRoot, snapRoot := dataRoots(t)

	out, err := runApp(t, "--log-dir", logRoot, "--snap-dir", snapRoot, "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, "snapshots:     0") {
		t.Fatalf("info output = %q", out)
	}
}

func TestSnapshotThenInfoAndPurge(t *testing.T) {
	logRoot, snapRoot := dataRoots(t)
	args := []string{"--log-dir", logRoot, "--snap-dir", snapRoot}

	// Auto-create initializes an empty database at zxid 0.
	out, err := runApp(t, append(args, "snapshot")...)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(out, "snapshot written") {
		t.Fatalf("snapshot output = %q", out)
	}

	out, err = runApp(t, append(args, "info")...)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if strings.Contains(out, "snapshots:     0") {
		t.Fatalf("info should list snapshots: %q", out)
	}

	if _, err := runApp(t, append(args, "purge", "--retain", "1")...); err != nil {
		t.Fatalf("purge: %v", err)
	}
}

func TestInitCommand(t *testing.T) {
	logRoot, snapRoot := dataRoots(t)

	out, err := runApp(t, "--log-dir", logRoot, "--snap-dir", snapRoot, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "marker written") {
		t.Fatalf("init output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(logRoot, "initialize")); err != nil {
		t.Fatalf("marker missing: %v", err)
	}
}
