package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-collab/core"
)

// KeyValueStore persists namespaced values in collab_store_entries. It backs
// the credentials snapshot and the shared rate limit windows.
type KeyValueStore struct {
	db   *bun.DB
	repo repository.Repository[*storeEntryRecord]
	now  func() time.Time
}

func NewKeyValueStore(db *bun.DB) (*KeyValueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*storeEntryRecord](db, storeEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid store entry repository wiring: %w", err)
		}
	}
	return &KeyValueStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *KeyValueStore) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: key value store is not configured")
	}
	namespace, key, err := normalizeEntryKey(namespace, key)
	if err != nil {
		return nil, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("namespace", "=", namespace),
		repository.SelectBy("entry_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.NewNotFoundError(namespace, key)
	}
	return append([]byte(nil), records[0].Value...), nil
}

func (s *KeyValueStore) Put(ctx context.Context, namespace string, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: key value store is not configured")
	}
	namespace, key, err := normalizeEntryKey(namespace, key)
	if err != nil {
		return err
	}
	now := s.now()
	payload := append([]byte(nil), value...)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findStoreEntryTx(ctx, tx, namespace, key)
		if err != nil {
			return err
		}
		if existing == nil {
			_, createErr := s.repo.CreateTx(ctx, tx, &storeEntryRecord{
				ID:        uuid.NewString(),
				Namespace: namespace,
				EntryKey:  key,
				Value:     payload,
				CreatedAt: now,
				UpdatedAt: now,
			})
			return createErr
		}
		_, updateErr := tx.NewUpdate().
			Model((*storeEntryRecord)(nil)).
			Set("value = ?", payload).
			Set("updated_at = ?", now).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *KeyValueStore) Delete(ctx context.Context, namespace string, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: key value store is not configured")
	}
	namespace, key, err := normalizeEntryKey(namespace, key)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*storeEntryRecord)(nil)).
		Where("namespace = ?", namespace).
		Where("entry_key = ?", key).
		Exec(ctx)
	return err
}

func (s *KeyValueStore) Clear(ctx context.Context, namespace string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: key value store is not configured")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return core.NewBadInputError("sqlstore: namespace is required")
	}
	_, err := s.db.NewDelete().
		Model((*storeEntryRecord)(nil)).
		Where("namespace = ?", namespace).
		Exec(ctx)
	return err
}

func findStoreEntryTx(ctx context.Context, tx bun.Tx, namespace string, key string) (*storeEntryRecord, error) {
	record := &storeEntryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.namespace = ?", namespace).
		Where("?TableAlias.entry_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func normalizeEntryKey(namespace string, key string) (string, string, error) {
	namespace, key = strings.TrimSpace(namespace), strings.TrimSpace(key)
	if namespace == "" || key == "" {
		return "", "", core.NewBadInputError("sqlstore: namespace and key are required")
	}
	return namespace, key, nil
}
