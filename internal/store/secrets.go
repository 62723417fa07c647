package store

import "context"

// StoreSecret upserts an already sealed value.
func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, rotated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	return one(s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key),
		func(row rowScanner) ([]byte, error) {
			var v []byte
			return v, row.Scan(&v)
		}, "secret", key)
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	return mustAffect(res, err, "secret", key)
}

// ListSecrets returns secret names in order; values are never listed.
func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	return collect(rows, err, func(row rowScanner) (string, error) {
		var k string
		return k, row.Scan(&k)
	})
}
