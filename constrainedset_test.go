package objtree

import "testing"

func TestConstrainedSet_emplaceRequiresSiblingPresence(t *testing.T) {
	a := appWithAccounts(t, "u1", "u2")

	ed := a.follows.Edit(false)
	if !ed.Emplace(newFollow("u1")) {
		t.Fatal("emplace should succeed when followedID names an existing account")
	}
	if ed.Emplace(newFollow("ghost")) {
		t.Fatal("emplace should fail when followedID names no account")
	}
	if ok, err := ed.Commit(); !ok || err != nil {
		t.Fatalf("commit failed: ok=%v err=%v", ok, err)
	}

	if !a.follows.Contains("u1") {
		t.Error("u1 should be followed after commit")
	}
	if a.follows.Contains("ghost") {
		t.Error("ghost should never have been staged")
	}
}

func TestConstrainedSet_siblingResolvesTheTargetRecord(t *testing.T) {
	a := appWithAccounts(t, "u1", "u2")

	acc, ok := a.follows.Sibling("u1")
	if !ok {
		t.Fatal("expected Sibling(\"u1\") to resolve")
	}
	if acc.name.Get() != "Name-u1" {
		t.Fatalf("got account name %q, want %q", acc.name.Get(), "Name-u1")
	}

	if _, ok := a.follows.Sibling("ghost"); ok {
		t.Fatal("expected Sibling of an absent key to fail")
	}
}

func TestConstrainedSet_siblingIsResolvedLiveNotCached(t *testing.T) {
	a := appWithAccounts(t, "u1", "u2")

	// u2 is still a valid account at this point, but is never inserted
	// into follows yet.
	eraseEd := a.accounts.Edit(false)
	eraseEd.Erase("u2")
	if ok, err := eraseEd.Commit(); !ok || err != nil {
		t.Fatalf("erase commit failed: ok=%v err=%v", ok, err)
	}

	// The sibling check must see this live (post-erase) state, not
	// whatever accounts looked like when the ConstrainedSet was built.
	ed := a.follows.Edit(false)
	if ed.Emplace(newFollow("u2")) {
		t.Fatal("emplace should fail: u2 no longer present in the live sibling container")
	}
	ed.Commit()
}

func TestConstrainedSet_eraseAndRoundTrip(t *testing.T) {
	root := newMemDir()
	a := appWithAccounts(t, "u1", "u2")

	ed := a.follows.Edit(false)
	ed.Emplace(newFollow("u1"))
	ed.Emplace(newFollow("u2"))
	ed.Commit()

	erEd := a.follows.Edit(false)
	erEd.Erase("u2")
	erEd.Commit()

	if err := a.accounts.attachDir(root, "accounts"); err != nil {
		t.Fatalf("attaching accounts: %v", err)
	}
	if err := a.follows.attachDir(root, "follows"); err != nil {
		t.Fatalf("attaching follows: %v", err)
	}

	loadedAccounts, err := LoadContainer[string, *account](root, "accounts", StringKeyCodec(), loadAccount)
	if err != nil {
		t.Fatalf("LoadContainer: %v", err)
	}
	loadedApp := &app{accounts: loadedAccounts}

	loadedFollows, err := LoadConstrainedSet[*app, string, *follow, string, *account](
		root, "follows", loadedApp, StringKeyCodec(),
		func(f *follow) string { return f.followedID.Get() },
		func(self *app) siblingContainer[string, *account] { return self.accounts },
		loadFollow,
	)
	if err != nil {
		t.Fatalf("LoadConstrainedSet: %v", err)
	}
	if loadedFollows.Size() != 1 || !loadedFollows.Contains("u1") {
		t.Fatalf("loaded follows mismatch: size=%d contains(u1)=%v", loadedFollows.Size(), loadedFollows.Contains("u1"))
	}
}
