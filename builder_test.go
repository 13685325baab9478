package objtree

import "testing"

func TestBuilder_attachesDirAndWritesInitialData(t *testing.T) {
	root := newMemDir()
	built, err := NewBuilder[account, *account](newAccount("u1", "Ann", "ann@example.com")).
		SetDir(root).
		SetField("account").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sub, err := root.Subdir("account", false)
	if err != nil {
		t.Fatalf("expected account subdirectory to exist: %v", err)
	}
	if _, err := sub.ReadFile("data.json"); err != nil {
		t.Fatalf("expected initial data.json to have been written: %v", err)
	}
	if built.id.Get() != "u1" {
		t.Fatalf("got id %q, want u1", built.id.Get())
	}
}

func TestBuilder_buildTwiceIsContractViolation(t *testing.T) {
	b := NewBuilder[account, *account](newAccount("u1", "Ann", "ann@example.com"))
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected second Build to panic with a ContractError")
		}
	}()
	b.Build()
}
