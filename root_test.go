package objtree

import (
	"os"
	"strings"
	"testing"

	"github.com/objectdb-go/objtree/commitlog"
)

// TestRoot_editRootTracksAndLogsSnapshot drives a Root end-to-end through
// EditRoot: it attaches a record to the Root's directory, enables a commit
// log, opens a top-level edit, checks DescribeOpenEdits reports it while
// open, commits, checks it's untracked again, and confirms the commit log
// actually received a snapshot.
func TestRoot_editRootTracksAndLogsSnapshot(t *testing.T) {
	dir := newMemDir()
	root := Open(dir, Options{})

	a := newApp()
	if err := a.AttachDir(root.Directory(), ""); err != nil {
		t.Fatalf("AttachDir: %v", err)
	}

	logDir := t.TempDir()
	root.EnableCommitLog(logDir, commitlog.Options{FileName: "app-*.wal"})
	defer root.CloseCommitLog()

	if got := root.DescribeOpenEdits(); got != "NO OPEN EDITORS" {
		t.Fatalf("DescribeOpenEdits before any edit = %q, want NO OPEN EDITORS", got)
	}

	ed := a.EditRoot(root, "app", false)

	desc := root.DescribeOpenEdits()
	if !strings.Contains(desc, "1 OPEN EDITORS") || !strings.Contains(desc, "app open for") {
		t.Fatalf("DescribeOpenEdits mid-edit = %q, want it to report the open app editor", desc)
	}

	accounts := ed.FieldEditors()[0].(*ContainerEditor[string, *account])
	if !accounts.Emplace(newAccount("u1", "Ann", "ann@example.com")) {
		t.Fatal("Emplace u1: expected success")
	}

	ok, err := ed.Commit()
	if err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	if got := root.DescribeOpenEdits(); got != "NO OPEN EDITORS" {
		t.Fatalf("DescribeOpenEdits after commit = %q, want NO OPEN EDITORS", got)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("reading commit log dir: %v", err)
	}
	var found bool
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasPrefix(ent.Name(), "app-") {
			info, err := ent.Info()
			if err != nil {
				t.Fatalf("stat %s: %v", ent.Name(), err)
			}
			if info.Size() > 0 {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected a non-empty commit log segment under %s, got entries %v", logDir, entries)
	}

	sub, err := dir.Subdir("accounts", false)
	if err != nil {
		t.Fatalf("expected accounts subdirectory to have been written: %v", err)
	}
	if _, err := sub.Subdir("u1", false); err != nil {
		t.Fatalf("expected account u1 subdirectory: %v", err)
	}

	raw, err := dir.ReadFile("data.json")
	if err != nil {
		t.Fatalf("reading root data.json: %v", err)
	}
	if !strings.Contains(string(raw), `"u1"`) {
		t.Fatalf("root data.json = %s, want it to list account key u1", raw)
	}
}

// TestRoot_closeWithoutCommitLeavesNoOpenEdits checks that a discarded
// editor (Close without Commit, autocommit false) still clears its
// open-edit tracking and never writes a commit-log snapshot.
func TestRoot_closeWithoutCommitLeavesNoOpenEdits(t *testing.T) {
	dir := newMemDir()
	root := Open(dir, Options{})

	a := newApp()
	if err := a.AttachDir(root.Directory(), ""); err != nil {
		t.Fatalf("AttachDir: %v", err)
	}

	logDir := t.TempDir()
	root.EnableCommitLog(logDir, commitlog.Options{FileName: "app-*.wal"})
	defer root.CloseCommitLog()

	ed := a.EditRoot(root, "app", false)
	if got := root.DescribeOpenEdits(); got == "NO OPEN EDITORS" {
		t.Fatal("expected the open edit to be tracked")
	}
	ed.Close()

	if got := root.DescribeOpenEdits(); got != "NO OPEN EDITORS" {
		t.Fatalf("DescribeOpenEdits after Close = %q, want NO OPEN EDITORS", got)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("reading commit log dir: %v", err)
	}
	for _, ent := range entries {
		if info, err := ent.Info(); err == nil && info.Size() > 0 {
			t.Fatalf("expected no commit log writes from an uncommitted edit, found %s (%d bytes)", ent.Name(), info.Size())
		}
	}
}
