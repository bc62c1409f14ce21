package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/glasswall-sec/slidegate/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrBucketDoesNotExist = errors.New("bbolt: bucket does not exist")
)

// Store implements store.Interface backed by bbolt[1].
//
// In essence, bbolt is a hierarchical key/value store with a twist: every
// value needs to belong to a bucket. Each challenge session gets its own
// bucket with three keys:
//
//  1. data - The session record in JSON, minus the attempt counter
//  2. expiry - The expiry time formatted as a time.RFC3339Nano timestamp string
//  3. attempts - The attempt counter as a decimal string
//
// The attempt counter lives in its own key so Increment can bump it inside
// one Update transaction without rewriting the session record, and so the
// sweep phase can scan expiry times without decoding whole records.
//
// bbolt is not suitable for environments where multiple instances of
// slidegate need to read from and write to the same backend store. For
// that, use the valkey storage backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
}

var (
	keyData     = []byte("data")
	keyExpiry   = []byte("expiry")
	keyAttempts = []byte("attempts")
)

// Create stores a session in its own bucket keyed by session id.
func (s *Store) Create(ctx context.Context, sess *store.Session, ttl time.Duration) error {
	expires := time.Now().Add(ttl)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrCantEncode, err)
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(sess.ID))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, sess.ID)
		}

		if err := bkt.Put(keyExpiry, []byte(expires.Format(time.RFC3339Nano))); err != nil {
			return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, sess.ID)
		}

		if err := bkt.Put(keyAttempts, []byte(strconv.Itoa(sess.Attempts))); err != nil {
			return fmt.Errorf("%w: %q (attempts)", store.ErrCantEncode, sess.ID)
		}

		if err := bkt.Put(keyData, data); err != nil {
			return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, sess.ID)
		}

		return nil
	})
}

// Get returns a session, treating an expired record as absent. Expired
// records found this way are deleted in the background.
func (s *Store) Get(ctx context.Context, id string) (store.Session, error) {
	var result store.Session

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(id))
		if bkt == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		expiry, err := bucketExpiry(bkt)
		if err != nil {
			return err
		}

		if time.Now().After(expiry) {
			go s.Delete(context.Background(), id)
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		data := bkt.Get(keyData)
		if data == nil {
			return fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, id)
		}

		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("%w: %w", store.ErrCantDecode, err)
		}

		result.Attempts, err = bucketAttempts(bkt)
		if err != nil {
			return err
		}

		return nil
	}); err != nil {
		return store.Session{}, err
	}

	return result, nil
}

// Increment bumps the attempt counter inside one transaction so racing
// verification calls each observe a distinct count.
func (s *Store) Increment(ctx context.Context, id string) (int, error) {
	var attempts int

	if err := s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(id))
		if bkt == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		expiry, err := bucketExpiry(bkt)
		if err != nil {
			return err
		}

		if time.Now().After(expiry) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		attempts, err = bucketAttempts(bkt)
		if err != nil {
			return err
		}

		attempts++
		if err := bkt.Put(keyAttempts, []byte(strconv.Itoa(attempts))); err != nil {
			return fmt.Errorf("%w: %q (attempts)", store.ErrCantEncode, id)
		}

		return nil
	}); err != nil {
		return 0, err
	}

	return attempts, nil
}

// Delete removes a session's bucket and reports whether this
// transaction removed it. Missing buckets are not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	removed := false

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(id)) == nil {
			return nil
		}

		if err := tx.DeleteBucket([]byte(id)); err != nil {
			return err
		}

		removed = true
		return nil
	})

	return removed, err
}

// Sweep scans every session bucket's expiry key and deletes the expired
// ones, without decoding session records.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		var expired [][]byte

		if err := tx.ForEach(func(key []byte, bkt *bbolt.Bucket) error {
			expiryStr := bkt.Get(keyExpiry)
			if expiryStr == nil {
				slog.Warn("while running sweep, expiry is not set somehow, file a bug?", "key", string(key))
				return nil
			}

			expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
			if err != nil {
				return fmt.Errorf("[unexpected] %w in bucket %q: %w", store.ErrCantDecode, string(key), err)
			}

			if now.After(expiry) {
				expired = append(expired, append([]byte(nil), key...))
			}

			return nil
		}); err != nil {
			return err
		}

		for _, key := range expired {
			if err := tx.DeleteBucket(key); err != nil {
				return err
			}
			removed++
		}

		return nil
	})

	return removed, err
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("error during bbolt sweep", "err", err)
			}
		}
	}
}

func bucketExpiry(bkt *bbolt.Bucket) (time.Time, error) {
	expiryStr := bkt.Get(keyExpiry)
	if expiryStr == nil {
		return time.Time{}, fmt.Errorf("[unexpected] %w (expiry is nil)", store.ErrNotFound)
	}

	expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
	if err != nil {
		return time.Time{}, fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
	}

	return expiry, nil
}

func bucketAttempts(bkt *bbolt.Bucket) (int, error) {
	attemptsStr := bkt.Get(keyAttempts)
	if attemptsStr == nil {
		return 0, nil
	}

	attempts, err := strconv.Atoi(string(attemptsStr))
	if err != nil {
		return 0, fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
	}

	return attempts, nil
}
