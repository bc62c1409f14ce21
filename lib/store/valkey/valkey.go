package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glasswall-sec/slidegate/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

const (
	sessionPrefix  = "slidegate:session:"
	attemptsPrefix = "slidegate:attempts:"
)

// Store implements store.Interface on top of valkey. The session record
// and its attempt counter live under separate keys so the counter can be
// bumped with INCR, which is atomic server-side. Both keys carry the
// session TTL; Sweep is a no-op because valkey expires them itself.
type Store struct {
	rdb *valkey.Client
}

func (s *Store) Create(ctx context.Context, sess *store.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrCantEncode, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionPrefix+sess.ID, string(data), ttl)
	pipe.Set(ctx, attemptsPrefix+sess.ID, strconv.Itoa(sess.Attempts), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("can't create session %q in valkey: %w", sess.ID, err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (store.Session, error) {
	data, err := s.rdb.Get(ctx, sessionPrefix+id).Result()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return store.Session{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		return store.Session{}, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	var result store.Session
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return store.Session{}, fmt.Errorf("%w: %w", store.ErrCantDecode, err)
	}

	if attempts, err := s.rdb.Get(ctx, attemptsPrefix+id).Int(); err == nil {
		result.Attempts = attempts
	}

	return result, nil
}

func (s *Store) Increment(ctx context.Context, id string) (int, error) {
	exists, err := s.rdb.Exists(ctx, sessionPrefix+id).Result()
	if err != nil {
		return 0, fmt.Errorf("can't check session %q in valkey: %w", id, err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	attempts, err := s.rdb.Incr(ctx, attemptsPrefix+id).Result()
	if err != nil {
		return 0, fmt.Errorf("can't increment attempts for %q in valkey: %w", id, err)
	}

	return int(attempts), nil
}

// Delete removes both session keys in one MULTI/EXEC. Whether this
// call removed the session record decides which of two racing
// consumers actually consumed it, so the session key's DEL count is
// the verdict; the counter key is just cleanup.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	pipe := s.rdb.TxPipeline()
	sessDel := pipe.Del(ctx, sessionPrefix+id)
	pipe.Del(ctx, attemptsPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("can't delete from valkey: %w", err)
	}

	return sessDel.Val() > 0, nil
}

// Sweep is a no-op: valkey expires session keys server-side.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
