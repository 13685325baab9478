package objtree

import "testing"

// tagRecord is an int-keyed ContainerElem, used only to exercise the
// integer side of Container's key serialization.
type tagRecord struct {
	Base
	id *Value[int]
}

func newTag(id int) *tagRecord {
	t := &tagRecord{}
	t.Init(nil)
	t.id = NewComparableValue(id)
	t.RegisterField("id", t.id)
	return t
}

func (t *tagRecord) Key() int { return t.id.Get() }

func (t *tagRecord) OnKeyChange(do func(old, new int) (bool, error), undo func(old, new int)) {
	t.id.OnChange(do, undo)
}

func loadTag(dir Directory, key int) (*tagRecord, error) {
	t := newTag(key)
	if err := t.AttachDir(dir, ""); err != nil {
		return nil, err
	}
	return t, nil
}

func TestContainer_emplaceAndGet(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	if !ed.Emplace(newAccount("u1", "Ann", "ann@example.com")) {
		t.Fatal("emplace of a fresh key should succeed")
	}
	if ok, err := ed.Commit(); !ok || err != nil {
		t.Fatalf("commit failed: ok=%v err=%v", ok, err)
	}

	v, ok := c.Get("u1")
	if !ok || v.name.Get() != "Ann" {
		t.Fatalf("got (%v, %v), want account Ann", v, ok)
	}
}

func TestContainer_emplaceDuplicateKeyFails(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	if ed.Emplace(newAccount("u1", "Other", "other@example.com")) {
		t.Fatal("emplace of an already-staged key should fail")
	}
	ed.Commit()
}

func TestContainer_eraseRemovesElement(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	ed.Commit()

	ed2 := c.Edit(false)
	if !ed2.Erase("u1") {
		t.Fatal("erase of a present key should succeed")
	}
	if ok, err := ed2.Commit(); !ok || err != nil {
		t.Fatalf("commit failed: ok=%v err=%v", ok, err)
	}
	if c.Contains("u1") {
		t.Fatal("u1 should no longer be present after erase commit")
	}
}

func TestContainer_eraseVetoRestoresElement(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	c.OnErase(func(v *account) (bool, error) { return false, nil }, nil)

	ed := c.Edit(false)
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	ed.Commit()

	ed2 := c.Edit(false)
	ed2.Erase("u1")
	ok, err := ed2.Commit()
	if ok || err != nil {
		t.Fatalf("expected erase veto (false, nil), got ok=%v err=%v", ok, err)
	}
	if !c.Contains("u1") {
		t.Fatal("veto on erase should leave the element in place")
	}
}

func TestContainer_rekeyMovesMapEntry(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	ed.Commit()

	v, _ := c.Get("u1")
	idEd := v.EditAccount(false)
	idEd.id.Set("u2")
	if ok, err := idEd.Commit(); !ok || err != nil {
		t.Fatalf("rekey commit failed: ok=%v err=%v", ok, err)
	}

	if c.Contains("u1") {
		t.Error("old key u1 should be gone after rekey")
	}
	if !c.Contains("u2") {
		t.Error("new key u2 should be present after rekey")
	}
}

func TestContainer_undoCommitReversesEmplaceAndErase(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	ed.Emplace(newAccount("u2", "Bob", "bob@example.com"))
	ed.Commit()

	ed2 := c.Edit(false)
	ed2.Erase("u1")
	ed2.Emplace(newAccount("u3", "Cat", "cat@example.com"))
	if ok, err := ed2.Commit(); !ok || err != nil {
		t.Fatalf("commit failed: ok=%v err=%v", ok, err)
	}
	ed2.UndoCommit()

	if !c.Contains("u1") {
		t.Error("u1 should be restored by undo-commit")
	}
	if c.Contains("u3") {
		t.Error("u3 should be removed by undo-commit")
	}
	if !c.Contains("u2") {
		t.Error("u2 should be unaffected by undo-commit")
	}
}

func TestContainer_attachDirRoundTrip(t *testing.T) {
	root := newMemDir()
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	ed.Emplace(newAccount("u2", "Bob", "bob@example.com"))
	ed.Commit()

	if err := c.attachDir(root, "accounts"); err != nil {
		t.Fatalf("attachDir: %v", err)
	}

	loaded, err := LoadContainer[string, *account](root, "accounts", StringKeyCodec(), loadAccount)
	if err != nil {
		t.Fatalf("LoadContainer: %v", err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("got size %d, want 2", loaded.Size())
	}
	v, ok := loaded.Get("u2")
	if !ok || v.name.Get() != "Bob" || v.email.Get() != "bob@example.com" {
		t.Fatalf("loaded account mismatch: %+v", v)
	}
}

func TestContainer_serializeJSONWritesStringKeysAsStrings(t *testing.T) {
	c := NewContainer[string, *account](StringKeyCodec())
	ed := c.Edit(false)
	ed.Emplace(newAccount("u2", "Bob", "bob@example.com"))
	ed.Emplace(newAccount("u1", "Ann", "ann@example.com"))
	ed.Commit()

	raw, err := c.serializeJSON()
	if err != nil {
		t.Fatalf("serializeJSON: %v", err)
	}
	if string(raw) != `["u1","u2"]` {
		t.Fatalf("got %s, want [\"u1\",\"u2\"]", raw)
	}
}

func TestContainer_serializeJSONWritesIntegerKeysAsNumbers(t *testing.T) {
	c := NewContainer[int, *tagRecord](SignedIntKeyCodec[int]())
	ed := c.Edit(false)
	ed.Emplace(newTag(5))
	ed.Emplace(newTag(3))
	ed.Commit()

	raw, err := c.serializeJSON()
	if err != nil {
		t.Fatalf("serializeJSON: %v", err)
	}
	if string(raw) != "[3,5]" {
		t.Fatalf("got %s, want [3,5]", raw)
	}
}

func TestContainer_intKeyedAttachDirRoundTrip(t *testing.T) {
	root := newMemDir()
	c := NewContainer[int, *tagRecord](SignedIntKeyCodec[int]())
	ed := c.Edit(false)
	ed.Emplace(newTag(5))
	ed.Emplace(newTag(3))
	ed.Commit()

	if err := c.attachDir(root, "tags"); err != nil {
		t.Fatalf("attachDir: %v", err)
	}

	loaded, err := LoadContainer[int, *tagRecord](root, "tags", SignedIntKeyCodec[int](), loadTag)
	if err != nil {
		t.Fatalf("LoadContainer: %v", err)
	}
	if loaded.Size() != 2 || !loaded.Contains(3) || !loaded.Contains(5) {
		t.Fatalf("loaded int-keyed container mismatch: size=%d", loaded.Size())
	}
}

func TestLoadContainer_missingSubdirIsLoadError(t *testing.T) {
	root := newMemDir()
	_, err := LoadContainer[string, *account](root, "accounts", StringKeyCodec(), loadAccount)
	if err == nil {
		t.Fatal("expected a LoadError for a missing container subdirectory")
	}
	var le *LoadError
	if !asLoadError(err, &le) {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
}

func asLoadError(err error, target **LoadError) bool {
	le, ok := err.(*LoadError)
	if ok {
		*target = le
	}
	return ok
}
