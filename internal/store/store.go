// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

// Package store persists identity records, the download history, and
// the append-only admin action log in an embedded Badger database.
//
// Key layout:
//
//	identity:<id>                 -> IdentityRecord
//	download:<rfc3339nano>:<uuid> -> DownloadRecord
//	action:<rfc3339nano>:<uuid>   -> AdminAction
//
// Timestamp-prefixed keys keep history scans in chronological order
// without a secondary index.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/logging"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Key prefixes.
const (
	prefixIdentity = "identity:"
	prefixDownload = "download:"
	prefixAction   = "action:"
)

// IdentityRecord is the durable per-identity state. Quota counters
// and premium status live here; everything derivable (trust recovery,
// rate windows) stays in memory.
type IdentityRecord struct {
	ID            string    `json:"id"`
	Premium       bool      `json:"premium"`
	PremiumExpiry time.Time `json:"premium_expiry,omitempty"`
	DownloadsUsed int       `json:"downloads_used"`
	PeriodReset   time.Time `json:"period_reset,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Blocked       bool      `json:"blocked"`
	BlockReason   string    `json:"block_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeen      time.Time `json:"last_seen"`
}

// DownloadRecord is one row of the download history.
type DownloadRecord struct {
	ID        string        `json:"id"`
	Identity  string        `json:"identity"`
	MediaID   string        `json:"media_id"`
	Quality   string        `json:"quality"`
	SizeBytes int64         `json:"size_bytes"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
	CreatedAt time.Time     `json:"created_at"`
}

// AdminAction is one entry of the append-only operator audit log.
type AdminAction struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Store wraps the Badger database. Safe for concurrent use.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the store at the configured path.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	log := logging.With().Str("component", "store").Logger()

	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithInMemory(cfg.InMemory)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Path, err)
	}

	log.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("store opened")
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs one round of Badger value-log garbage collection.
// Badger returns ErrNoRewrite when nothing needed collecting; that is
// not an error for the caller.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("value log GC: %w", err)
	}
	return nil
}

// GetIdentity loads an identity record. Returns ErrNotFound for
// unknown identities.
func (s *Store) GetIdentity(id string) (*IdentityRecord, error) {
	var rec IdentityRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixIdentity + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", id, err)
	}
	return &rec, nil
}

// PutIdentity stores an identity record, overwriting any previous
// version.
func (s *Store) PutIdentity(rec *IdentityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity %s: %w", rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixIdentity+rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put identity %s: %w", rec.ID, err)
	}
	return nil
}

// ListIdentities returns all identity records. Intended for the ops
// surface and startup hydration, not hot paths.
func (s *Store) ListIdentities() ([]*IdentityRecord, error) {
	var out []*IdentityRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixIdentity)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec IdentityRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return out, nil
}

// AppendDownload appends a download record to the history. The ID is
// assigned if empty.
func (s *Store) AppendDownload(rec *DownloadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal download record: %w", err)
	}

	key := fmt.Sprintf("%s%s:%s", prefixDownload, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("append download record: %w", err)
	}
	return nil
}

// ListDownloads returns download records, newest first. When identity
// is non-empty only that identity's rows are returned. limit <= 0
// means no limit.
func (s *Store) ListDownloads(identity string, limit int) ([]*DownloadRecord, error) {
	var out []*DownloadRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixDownload)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the prefix range.
		seek := append([]byte(prefixDownload), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec DownloadRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				if identity != "" && rec.Identity != identity {
					return nil
				}
				out = append(out, &rec)
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	return out, nil
}

// AppendAdminAction appends an entry to the audit log. The ID and
// timestamp are assigned if empty.
func (s *Store) AppendAdminAction(action *AdminAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.At.IsZero() {
		action.At = time.Now()
	}

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal admin action: %w", err)
	}

	key := fmt.Sprintf("%s%s:%s", prefixAction, action.At.UTC().Format(time.RFC3339Nano), action.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("append admin action: %w", err)
	}
	return nil
}

// ListAdminActions returns audit log entries, newest first.
// limit <= 0 means no limit.
func (s *Store) ListAdminActions(limit int) ([]*AdminAction, error) {
	var out []*AdminAction
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAction)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(prefixAction), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var action AdminAction
				if err := json.Unmarshal(val, &action); err != nil {
					return err
				}
				out = append(out, &action)
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", err)
	}
	return out, nil
}

// BlockedIdentities returns IDs of identities persisted as blocked.
// Used to hydrate the in-memory block set at startup.
func (s *Store) BlockedIdentities() (map[string]string, error) {
	records, err := s.ListIdentities()
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]string)
	for _, rec := range records {
		if rec.Blocked {
			blocked[rec.ID] = rec.BlockReason
		}
	}
	return blocked, nil
}

// CountDownloads returns the number of stored download rows, cheaply,
// without loading values.
func (s *Store) CountDownloads() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixDownload)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if !strings.HasPrefix(string(it.Item().Key()), prefixDownload) {
				break
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count downloads: %w", err)
	}
	return count, nil
}
