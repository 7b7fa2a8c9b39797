package auth

import (
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("prod", "tok-abc"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cred, err := store.Get("prod")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.Token != "tok-abc" {
		t.Errorf("Token = %q, want tok-abc", cred.Token)
	}
	if !cred.Default {
		t.Errorf("first saved credential should be the default")
	}
}

func TestStore_SaveReplacesToken(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("prod", "old"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("prod", "new"); err != nil {
		t.Fatalf("Save() replace error = %v", err)
	}

	cred, err := store.Get("prod")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.Token != "new" {
		t.Errorf("Token = %q, want new", cred.Token)
	}
}

func TestStore_SetDefault(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("a", "tok-a"); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}
	if err := store.Save("b", "tok-b"); err != nil {
		t.Fatalf("Save(b) error = %v", err)
	}

	if err := store.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}

	cred, err := store.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cred.Name != "b" {
		t.Errorf("default = %q, want b", cred.Name)
	}

	if err := store.SetDefault("missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("SetDefault(missing) error = %v, want ErrCredentialNotFound", err)
	}
}

func TestStore_DefaultWhenEmpty(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Default(); !errors.Is(err, ErrNoDefaultCredential) {
		t.Errorf("Default() error = %v, want ErrNoDefaultCredential", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("tmp", "tok"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete("tmp"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get("tmp"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrCredentialNotFound", err)
	}
	if err := store.Delete("tmp"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrCredentialNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := store.Save(name, "tok-"+name); err != nil {
			t.Fatalf("Save(%s) error = %v", name, err)
		}
	}

	creds, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(creds) != 3 {
		t.Errorf("len(List()) = %d, want 3", len(creds))
	}
}

func TestStoreSource_BearerToken(t *testing.T) {
	store := newTestStore(t)

	src := store.Source("")
	if _, ok := src.BearerToken(); ok {
		t.Errorf("BearerToken() ok = true on empty store, want false")
	}

	if err := store.Save("prod", "tok-xyz"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	token, ok := src.BearerToken()
	if !ok || token != "tok-xyz" {
		t.Errorf("BearerToken() = %q, %v, want tok-xyz, true", token, ok)
	}

	named := store.Source("missing")
	if _, ok := named.BearerToken(); ok {
		t.Errorf("BearerToken() ok = true for missing name, want false")
	}
}
