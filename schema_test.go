package objtree

import "encoding/json"

// Test fixtures shared across this package's test files: a small social-app
// schema exercising every field kind — Value, nested Record, Container,
// Subset and ConstrainedSet — the way a generated schema would look.

type account struct {
	Base
	id    *Value[string]
	name  *Value[string]
	email *Value[string]
}

func newAccount(id, name, email string) *account {
	a := &account{}
	a.Init(nil)
	a.id = NewComparableValue(id)
	a.name = NewComparableValue(name)
	a.email = NewComparableValue(email)
	a.RegisterField("id", a.id)
	a.RegisterField("name", a.name)
	a.RegisterField("email", a.email)
	return a
}

func (a *account) Key() string { return a.id.Get() }

func (a *account) OnKeyChange(do func(old, new string) (bool, error), undo func(old, new string)) {
	a.id.OnChange(do, undo)
}

type accountEditor struct {
	*RecordEditor
	id, name, email *ValueEditor[string]
}

func (a *account) EditAccount(autocommit bool) *accountEditor {
	re := a.Edit(autocommit)
	fe := re.FieldEditors()
	return &accountEditor{re, fe[0].(*ValueEditor[string]), fe[1].(*ValueEditor[string]), fe[2].(*ValueEditor[string])}
}

func loadAccount(dir Directory, key string) (*account, error) {
	raw, err := dir.ReadFile("data.json")
	if err != nil {
		return nil, loadErrf(key, err, "reading account data.json")
	}
	var doc struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, loadErrf(key, err, "parsing account data.json")
	}
	a := newAccount(doc.ID, doc.Name, doc.Email)
	if err := a.AttachDir(dir, ""); err != nil {
		return nil, err
	}
	return a, nil
}

// follow is a ConstrainedSet element: it may only be inserted while its
// followedID names an account present in the sibling accounts container.
type follow struct {
	Base
	followedID *Value[string]
}

func newFollow(followedID string) *follow {
	f := &follow{}
	f.Init(nil)
	f.followedID = NewComparableValue(followedID)
	f.RegisterField("followedID", f.followedID)
	return f
}

func (f *follow) Key() string { return f.followedID.Get() }

func (f *follow) OnKeyChange(do func(old, new string) (bool, error), undo func(old, new string)) {
	f.followedID.OnChange(do, undo)
}

func loadFollow(dir Directory, key string) (*follow, error) {
	f := newFollow(key)
	if err := f.AttachDir(dir, ""); err != nil {
		return nil, err
	}
	return f, nil
}

// app is the root record: an accounts container, a favorites subset of it,
// and a follows set constrained against it.
type app struct {
	Base
	accounts  *Container[string, *account]
	favorites *Subset[*app, string, *account]
	follows   *ConstrainedSet[*app, string, *follow, string, *account]
}

func newApp() *app {
	a := &app{}
	a.Init(nil)
	a.accounts = NewContainer[string, *account](StringKeyCodec())
	a.favorites = NewSubset(a, func(self *app) *Container[string, *account] { return self.accounts })
	a.follows = NewConstrainedSet[*app, string, *follow, string, *account](
		a, StringKeyCodec(),
		func(f *follow) string { return f.followedID.Get() },
		func(self *app) siblingContainer[string, *account] { return self.accounts },
	)
	a.RegisterField("accounts", a.accounts)
	a.RegisterField("favorites", a.favorites)
	a.RegisterField("follows", a.follows)
	return a
}
