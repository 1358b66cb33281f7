package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/duerelay/duerelay/internal/domain/tenant"
)

const FileName = "duerelay.bolt"

var (
	bucketTenants     = []byte("tenants")
	bucketCredentials = []byte("credentials")
)

// Store keeps tenant records and credential blobs in one bbolt file.
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

var _ tenant.Store = (*Store)(nil)

// Open creates dataDir when needed and opens the store file inside it.
func Open(dataDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, FileName), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTenants, bucketCredentials} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Store{db: db, logger: logger.With().Str("service", "boltstore").Logger()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveTenant(_ context.Context, rec *tenant.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode tenant: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenants).Put([]byte(rec.ID), data)
	})
}

// LoadTenants returns every record in key order. Records that no longer
// decode are logged and skipped.
func (s *Store) LoadTenants(_ context.Context) ([]*tenant.Record, error) {
	var out []*tenant.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenants).ForEach(func(k, v []byte) error {
			var rec tenant.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn().Err(err).Str("tenant_id", string(k)).Msg("skipping undecodable tenant record")
				return nil
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteTenant(_ context.Context, tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return errors.Join(
			tx.Bucket(bucketTenants).Delete([]byte(tenantID)),
			tx.Bucket(bucketCredentials).Delete([]byte(tenantID)),
		)
	})
}

func (s *Store) SaveCredentials(_ context.Context, tenantID string, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Put([]byte(tenantID), blob)
	})
}

func (s *Store) LoadCredentials(_ context.Context, tenantID string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCredentials).Get([]byte(tenantID)); v != nil {
			// v is only valid inside the transaction.
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	return blob, err
}

func (s *Store) DeleteCredentials(_ context.Context, tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(tenantID))
	})
}
