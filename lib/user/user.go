// Package user persists accounts in a single JSON file.
//
// The file holds the full account list and is rewritten on every
// mutation. That is fine at the scale this service runs at and keeps
// the deployment to one binary plus one data file.
package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound is returned when no account matches the given email or id.
	ErrNotFound = errors.New("user: not found")
	// ErrEmailTaken is returned by Add when the email is already registered.
	ErrEmailTaken = errors.New("user: email already registered")
)

// Profile is free-form account metadata kept alongside the credentials.
type Profile struct {
	Avatar      *string        `json:"avatar"`
	Bio         string         `json:"bio"`
	Preferences map[string]any `json:"preferences"`
}

// User is one account record. PasswordHash is a bcrypt hash, never the
// plaintext password.
type User struct {
	ID           string     `json:"id"`
	FullName     string     `json:"fullName"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin"`
	Profile      Profile    `json:"profile"`
}

// CheckPassword reports whether the plaintext password matches the
// stored bcrypt hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Store reads and writes the account file. All methods are safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// New opens the account file at path, creating it (and its parent
// directory) with an empty list if it does not exist yet.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("user: can't create data directory: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o600); err != nil {
			return nil, fmt.Errorf("user: can't create %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("user: can't stat %s: %w", path, err)
	}

	s := &Store{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() ([]User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("user: can't read %s: %w", s.path, err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("user: can't parse %s: %w", s.path, err)
	}

	return users, nil
}

func (s *Store) save(users []User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("user: can't encode accounts: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("user: can't write %s: %w", s.path, err)
	}

	return nil
}

// NormalizeEmail lowercases and trims an email so lookups and
// uniqueness checks agree on a canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Add registers a new account. The password is hashed with bcrypt
// before it touches disk.
func (s *Store) Add(fullName, email, password string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	email = NormalizeEmail(email)
	for i := range users {
		if NormalizeEmail(users[i].Email) == email {
			return nil, ErrEmailTaken
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("user: can't hash password: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		FullName:     strings.TrimSpace(fullName),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
		Profile: Profile{
			Preferences: map[string]any{},
		},
	}

	users = append(users, u)
	if err := s.save(users); err != nil {
		return nil, err
	}

	return &u, nil
}

// FindByEmail looks an account up by its normalized email.
func (s *Store) FindByEmail(email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	email = NormalizeEmail(email)
	for i := range users {
		if NormalizeEmail(users[i].Email) == email {
			u := users[i]
			return &u, nil
		}
	}

	return nil, ErrNotFound
}

// Touch records a successful login time on the account.
func (s *Store) Touch(id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range users {
		if users[i].ID == id {
			users[i].LastLogin = &now
			if err := s.save(users); err != nil {
				return nil, err
			}
			u := users[i]
			return &u, nil
		}
	}

	return nil, ErrNotFound
}

// All returns every account on file.
func (s *Store) All() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// Count returns the number of registered accounts.
func (s *Store) Count() (int, error) {
	users, err := s.All()
	if err != nil {
		return 0, err
	}

	return len(users), nil
}

// MaskEmail hides most of the local part of an email for log output.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}

	if len(local) <= 2 {
		return local + "@" + domain
	}

	return local[:1] + strings.Repeat("*", max(1, len(local)-2)) + local[len(local)-1:] + "@" + domain
}
