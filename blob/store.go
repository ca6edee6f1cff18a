package blob

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/types"
	"github.com/tidwall/buntdb"
)

const (
	URLPrefix = "/api/blobs/"
	keyPrefix = "blob:"
)

// Store keeps attachment bytes in a buntdb file. The server treats the bytes as opaque: encrypted attachments arrive
// already sealed by the client.
type Store struct {
	db      *buntdb.DB
	maxSize int64
	logger  hclog.Logger
}

type record struct {
	Mime    string    `json:"mime"`
	Owner   string    `json:"owner"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
	Data    []byte    `json:"data"`
}

// Open opens (or creates) the blob database at path. ":memory:" keeps everything in memory.
func Open(path string, maxSize int64) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("blobsts", keyPrefix+"*", buntdb.IndexJSON("created"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, maxSize: maxSize, logger: globals.AppLogger.Named("blob")}, nil
}

// Put stores data and returns the url under which it can be fetched.
func (s *Store) Put(ctx context.Context, owner string, data []byte, mime string) (string, error) {
	const op = "put blob"
	if len(data) == 0 {
		return "", types.NewValidationError(op, "empty blob")
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", types.NewValidationError(op, "blob exceeds %d bytes", s.maxSize)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	raw, err := json.Marshal(record{Mime: mime, Owner: owner, Size: int64(len(data)), Created: time.Now().UTC(), Data: data})
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyPrefix+id, string(raw), nil)
		return err
	})
	if err != nil {
		return "", types.NewPersistenceError(op, err)
	}
	s.logger.Debug("stored blob", "id", id, "size", len(data), "owner", owner)
	return URLPrefix + id, nil
}

// Get returns the bytes and mime type stored under url, which may be the full url or the bare key.
func (s *Store) Get(ctx context.Context, url string) ([]byte, string, error) {
	const op = "get blob"
	id := strings.TrimPrefix(url, URLPrefix)
	if _, err := uuid.Parse(id); err != nil {
		return nil, "", types.NewNotFoundError(op, "unknown blob")
	}
	var rec record
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyPrefix + id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &rec)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, "", types.NewNotFoundError(op, "unknown blob")
	}
	if err != nil {
		return nil, "", types.NewPersistenceError(op, err)
	}
	return rec.Data, rec.Mime, nil
}

// Prune removes blobs created before cutoff and returns how many were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	var keys []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("blobsts", func(key, value string) bool {
			var rec struct {
				Created time.Time `json:"created"`
			}
			if json.Unmarshal([]byte(value), &rec) != nil {
				return true
			}
			if !rec.Created.Before(cutoff) {
				return false
			}
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// MaxSize is the largest accepted blob in bytes, 0 for no limit.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

func (s *Store) Close() error {
	return s.db.Close()
}
