package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	rd "github.com/go-redis/redis/v9"
)

const secretsKey = "SECRETS"

// --- libSQL ---

// StoreSecret upserts an encrypted secret.
func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return storeError("store secret", err)
	}
	return nil
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, storeError("get secret", err)
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return storeError("delete secret", err)
	}
	return checkRowsAffected(res, "secret", key)
}

// ListSecrets returns the secret keys in alphabetical order.
func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, storeError("list secrets", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// --- Redis ---

// StoreSecret sets key in the namespace's secrets hash.
func (s *RedisStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.key(secretsKey), key, value).Err(); err != nil {
		return storeError("store secret", err)
	}
	return nil
}

func (s *RedisStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.key(secretsKey), key).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, storeError("get secret", err)
	}
	return value, nil
}

func (s *RedisStore) DeleteSecret(ctx context.Context, key string) error {
	n, err := s.client.HDel(ctx, s.key(secretsKey), key).Result()
	if err != nil {
		return storeError("delete secret", err)
	}
	if n == 0 {
		return storeNotFound("secret", key)
	}
	return nil
}

// ListSecrets returns the secret keys in alphabetical order.
func (s *RedisStore) ListSecrets(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key(secretsKey)).Result()
	if err != nil {
		return nil, storeError("list secrets", err)
	}
	sort.Strings(keys)
	return keys, nil
}
