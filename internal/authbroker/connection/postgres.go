package connection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/database"
)

// PostgresStore implements Store against `_nango_connections` using
// sqlx's query/scan conventions, layering in envelope encryption via
// a Sealer (internal/credential). Queries run through a TenantDB so
// that a Postgres row-level-security policy scoped to
// app.current_tenant_id, if one is defined on the table, sees the
// calling environment ID.
type PostgresStore struct {
	db     *database.TenantDB
	sealer Sealer
}

func NewPostgresStore(db *sqlx.DB, sealer Sealer) *PostgresStore {
	return &PostgresStore{db: database.NewTenantDB(db), sealer: sealer}
}

func (s *PostgresStore) Upsert(ctx context.Context, c *Connection) error {
	blob, err := seal(ctx, s.sealer, c.EnvironmentID, c.Credentials)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}

	connConfig, err := json.Marshal(c.ConnectionConfig)
	if err != nil {
		return fmt.Errorf("marshaling connection config: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	const query = `
		INSERT INTO _nango_connections (
			environment_id, provider_config_key, connection_id, provider, auth_mode,
			credential_ciphertext, credential_nonce, credential_auth_tag, credential_encrypted_dek, credential_kms_key_id,
			connection_config, metadata, status, last_error, last_error_at,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5, $6,$7,$8,$9,$10, $11,$12,$13,$14,$15, $16,$16
		)
		ON CONFLICT (environment_id, provider_config_key, connection_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			auth_mode = EXCLUDED.auth_mode,
			credential_ciphertext = EXCLUDED.credential_ciphertext,
			credential_nonce = EXCLUDED.credential_nonce,
			credential_auth_tag = EXCLUDED.credential_auth_tag,
			credential_encrypted_dek = EXCLUDED.credential_encrypted_dek,
			credential_kms_key_id = EXCLUDED.credential_kms_key_id,
			connection_config = EXCLUDED.connection_config,
			metadata = EXCLUDED.metadata,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			last_error_at = EXCLUDED.last_error_at,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID, c.Provider, c.AuthMode,
		blob.Ciphertext, blob.Nonce, blob.AuthTag, blob.EncryptedDEK, blob.KMSKeyID,
		connConfig, metadata, c.Status, nullString(c.LastError), c.LastErrorAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	c.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, environmentID, providerConfigKey, connectionID string) (*Connection, error) {
	const query = `
		SELECT provider, auth_mode,
			credential_ciphertext, credential_nonce, credential_auth_tag, credential_encrypted_dek, credential_kms_key_id,
			connection_config, metadata, status, last_error, last_error_at,
			created_at, updated_at, last_fetched_at
		FROM _nango_connections
		WHERE environment_id = $1 AND provider_config_key = $2 AND connection_id = $3
	`
	row := s.db.QueryRowContext(ctx, query, environmentID, providerConfigKey, connectionID)
	c, err := scanConnection(ctx, s.sealer, row, environmentID, providerConfigKey, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListByProviderConfig lists every connection under a provider config,
// decrypting each. It first collects ids, then reuses Get per id so
// the decrypt/unmarshal path has exactly one implementation.
func (s *PostgresStore) ListByProviderConfig(ctx context.Context, environmentID, providerConfigKey string) ([]*Connection, error) {
	const query = `
		SELECT connection_id FROM _nango_connections
		WHERE environment_id = $1 AND provider_config_key = $2
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, environmentID, providerConfigKey)
	if err != nil {
		return nil, fmt.Errorf("listing connection ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning connection id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, environmentID, providerConfigKey, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, environmentID, providerConfigKey, connectionID string) error {
	const query = `
		DELETE FROM _nango_connections
		WHERE environment_id = $1 AND provider_config_key = $2 AND connection_id = $3
	`
	result, err := s.db.ExecContext(ctx, query, environmentID, providerConfigKey, connectionID)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// WithAdvisoryLock serializes concurrent refreshes of the same
// connection across processes using a session-scoped Postgres
// advisory lock (pg_advisory_xact_lock), released automatically at
// transaction end — the cross-process analogue of the in-process
// singleflight group used by refresh.Coordinator.
func (s *PostgresStore) WithAdvisoryLock(ctx context.Context, environmentID, providerConfigKey, connectionID string, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning advisory lock transaction: %w", err)
	}
	defer tx.Rollback()

	key := advisoryLockKey(environmentID, providerConfigKey, connectionID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	return tx.Commit()
}

func advisoryLockKey(environmentID, providerConfigKey, connectionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(environmentID))
	h.Write([]byte("/"))
	h.Write([]byte(providerConfigKey))
	h.Write([]byte("/"))
	h.Write([]byte(connectionID))
	return int64(h.Sum64())
}

func scanConnection(ctx context.Context, sealer Sealer, row *sql.Row, environmentID, providerConfigKey, connectionID string) (*Connection, error) {
	var providerName string
	var authMode provider.AuthMode
	var ciphertext, nonce, authTag, encDEK []byte
	var kmsKeyID string
	var connConfig, metadata []byte
	var status string
	var lastError sql.NullString
	var lastErrorAt, lastFetchedAt sql.NullTime
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&providerName, &authMode,
		&ciphertext, &nonce, &authTag, &encDEK, &kmsKeyID,
		&connConfig, &metadata, &status, &lastError, &lastErrorAt,
		&createdAt, &updatedAt, &lastFetchedAt,
	)
	if err != nil {
		return nil, err
	}

	creds, err := unseal(ctx, sealer, &sealedBlob{
		EncryptedDEK: encDEK,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		AuthTag:      authTag,
		KMSKeyID:     kmsKeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("unsealing connection credentials: %w", err)
	}

	c := &Connection{
		EnvironmentID:     environmentID,
		ProviderConfigKey: providerConfigKey,
		ConnectionID:      connectionID,
		Provider:          providerName,
		AuthMode:          authMode,
		Credentials:       creds,
		Status:            Status(status),
		LastError:         lastError.String,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}
	if lastErrorAt.Valid {
		c.LastErrorAt = &lastErrorAt.Time
	}
	if lastFetchedAt.Valid {
		c.LastFetchedAt = &lastFetchedAt.Time
	}
	if len(connConfig) > 0 {
		if err := json.Unmarshal(connConfig, &c.ConnectionConfig); err != nil {
			return nil, fmt.Errorf("unmarshaling connection config: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
