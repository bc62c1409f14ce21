// Package storetest contains the conformance suite every session store
// backend must pass.
package storetest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glasswall-sec/slidegate/lib/store"
)

func sampleSession(id string) *store.Session {
	return &store.Session{
		ID:         id,
		Background: "image/07.png",
		Puzzle:     "puzzle/2.png",
		TargetX:    120,
		TargetY:    60,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic create get delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				want := sampleSession(t.Name())
				if err := s.Create(t.Context(), want, 5*time.Minute); err != nil {
					return err
				}

				got, err := s.Get(t.Context(), t.Name())
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				} else if err != nil {
					t.Error(err)
				}

				if got.ID != want.ID || got.Background != want.Background || got.Puzzle != want.Puzzle {
					t.Logf("want: %+v", want)
					t.Logf("got:  %+v", got)
					t.Error("wrong session returned")
				}

				if got.TargetX != want.TargetX || got.TargetY != want.TargetY {
					t.Errorf("wrong target, wanted (%d, %d) but got (%d, %d)", want.TargetX, want.TargetY, got.TargetX, got.TargetY)
				}

				removed, err := s.Delete(t.Context(), t.Name())
				if err != nil {
					return err
				}
				if !removed {
					t.Errorf("Delete of existing %q did not report a removal", t.Name())
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted session to not exist in store but it exists anyways")
				}

				// deleting an already-deleted session is a no-op, not an error,
				// and must not claim a removal it did not perform
				if removed, err := s.Delete(t.Context(), t.Name()); err != nil {
					t.Errorf("second Delete of %q was not idempotent: %v", t.Name(), err)
				} else if removed {
					t.Errorf("second Delete of %q claimed to remove an already-removed session", t.Name())
				}

				return nil
			},
		},
		{
			name: "attempt counter",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Increment(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("Increment on a missing session did not return ErrNotFound: %v", err)
				}

				if err := s.Create(t.Context(), sampleSession(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				for want := 1; want <= 3; want++ {
					got, err := s.Increment(t.Context(), t.Name())
					if err != nil {
						return err
					}
					if got != want {
						t.Errorf("attempt %d: Increment returned %d", want, got)
					}
				}

				got, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}
				if got.Attempts != 3 {
					t.Errorf("wanted 3 recorded attempts but got %d", got.Attempts)
				}

				_, err = s.Delete(t.Context(), t.Name())
				return err
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Create(t.Context(), sampleSession(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if _, err := s.Increment(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("Increment on an expired session did not return ErrNotFound: %v", err)
				}

				return nil
			},
		},
		{
			name: "sweep",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Create(t.Context(), sampleSession(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				time.Sleep(155 * time.Millisecond)

				// Backends with server-side expiry may legitimately report
				// zero removals, so only the post-sweep lookup is asserted.
				if _, err := s.Sweep(t.Context()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to be swept but it is still reachable", t.Name())
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
