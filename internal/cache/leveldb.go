package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore implements Store on a local LevelDB file. It suits
// single-node deploys that want cache survival across restarts without
// running Redis. Entries carry their deadline in the value and expire
// lazily on read.
type LevelDBStore struct {
	db  *leveldb.DB
	now func() time.Time
}

// NewLevelDBStore opens (or creates) the database at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb cache: %w", err)
	}
	return &LevelDBStore{db: db, now: time.Now}, nil
}

func (s *LevelDBStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	value, deadline, ok := decodeEntry(raw)
	if !ok {
		// Unreadable entry: drop it rather than serving garbage.
		_ = s.db.Delete([]byte(key), nil)
		return nil, false, nil
	}
	if s.now().After(deadline) {
		_ = s.db.Delete([]byte(key), nil)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *LevelDBStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	encoded := encodeEntry(value, s.now().Add(ttl))
	if err := s.db.Put([]byte(key), encoded, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *LevelDBStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		return 0, 0, errors.New("ttl must be positive")
	}
	now := s.now()
	count := int64(1)
	deadline := now.Add(ttl)
	raw, err := s.db.Get([]byte(key), nil)
	if err == nil {
		if value, existing, ok := decodeEntry(raw); ok && now.Before(existing) {
			count = decodeCount(value) + 1
			deadline = existing
		}
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	encoded := encodeEntry(encodeCount(count), deadline)
	if err := s.db.Put([]byte(key), encoded, nil); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, time.Until(deadline), nil
}

func (s *LevelDBStore) Ping(_ context.Context) error {
	// A property read exercises the handle without touching user keys.
	if _, err := s.db.GetProperty("leveldb.stats"); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// SetNow overrides the store clock for tests.
func (s *LevelDBStore) SetNow(now func() time.Time) {
	s.now = now
}

func encodeEntry(value []byte, deadline time.Time) []byte {
	encoded := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(encoded, uint64(deadline.UnixNano()))
	copy(encoded[8:], value)
	return encoded
}

func decodeEntry(raw []byte) (value []byte, deadline time.Time, ok bool) {
	if len(raw) < 8 {
		return nil, time.Time{}, false
	}
	nanos := int64(binary.BigEndian.Uint64(raw))
	value = make([]byte, len(raw)-8)
	copy(value, raw[8:])
	return value, time.Unix(0, nanos), true
}
