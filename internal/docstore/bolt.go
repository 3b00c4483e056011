package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// Bolt stores documents in a local bbolt file, for single-node deployments
// without a document service.
type Bolt struct {
	db *bolt.DB
}

type boltRecord struct {
	Text      string    `json:"text"`
	Version   int       `json:"version"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Fetch(_ context.Context, docID string, _ Credentials) (Document, error) {
	var rec boltRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(documentsBucket).Get([]byte(docID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return Document{}, err
	}
	return Document{ID: docID, Text: rec.Text, Version: rec.Version}, nil
}

func (b *Bolt) Save(_ context.Context, docID, text string, version int, creds Credentials) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(documentsBucket)
		if raw := bucket.Get([]byte(docID)); raw != nil {
			var cur boltRecord
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode %s: %w", docID, err)
			}
			if cur.Version > version {
				return ErrConflict
			}
		}
		raw, err := json.Marshal(boltRecord{
			Text:      text,
			Version:   version,
			UpdatedBy: creds.UserID,
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(docID), raw)
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
