package user

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "data", "users.json"))
	if err != nil {
		t.Fatal(err)
	}

	return s
}

func TestAddAndFind(t *testing.T) {
	s := testStore(t)

	u, err := s.Add("Alice Example", "  Alice@Example.COM ", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	if u.Email != "alice@example.com" {
		t.Errorf("email was not normalized: %q", u.Email)
	}
	if u.ID == "" {
		t.Error("user has no id")
	}
	if u.PasswordHash == "hunter22" {
		t.Error("password was stored in plaintext")
	}
	if !u.CheckPassword("hunter22") {
		t.Error("correct password was rejected")
	}
	if u.CheckPassword("hunter23") {
		t.Error("wrong password was accepted")
	}

	got, err := s.FindByEmail("ALICE@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != u.ID {
		t.Errorf("found wrong user: %q", got.ID)
	}

	if _, err := s.FindByEmail("nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wanted ErrNotFound but got %v", err)
	}
}

func TestAddDuplicateEmail(t *testing.T) {
	s := testStore(t)

	if _, err := s.Add("Alice", "alice@example.com", "hunter22"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Add("Also Alice", "ALICE@example.com", "other"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("wanted ErrEmailTaken but got %v", err)
	}

	if n, _ := s.Count(); n != 1 {
		t.Errorf("wanted 1 user but got %d", n)
	}
}

func TestTouch(t *testing.T) {
	s := testStore(t)

	u, err := s.Add("Alice", "alice@example.com", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if u.LastLogin != nil {
		t.Error("fresh account should have no login time")
	}

	touched, err := s.Touch(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if touched.LastLogin == nil {
		t.Error("Touch did not set the login time")
	}

	// and it survives a reload
	got, err := s.FindByEmail("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastLogin == nil {
		t.Error("login time was not persisted")
	}

	if _, err := s.Touch("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wanted ErrNotFound but got %v", err)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("Alice", "alice@example.com", "hunter22"); err != nil {
		t.Fatal(err)
	}

	// a second store over the same file sees the account
	s2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	u, err := s2.FindByEmail("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !u.CheckPassword("hunter22") {
		t.Error("reloaded account lost its password hash")
	}
}

func TestNewRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path); err == nil {
		t.Error("wanted an error for a corrupt account file")
	}
}

func TestMaskEmail(t *testing.T) {
	for _, tt := range []struct {
		in, want string
	}{
		{in: "alice@example.com", want: "a***e@example.com"},
		{in: "ab@example.com", want: "ab@example.com"},
		{in: "not-an-email", want: "not-an-email"},
	} {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q) = %q, wanted %q", tt.in, got, tt.want)
		}
	}
}
