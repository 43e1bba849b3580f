package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gorax/gorax/internal/database"
)

// PostgresStore implements Store against the `_nango_oauth_sessions`
// table using sqlx's query/scan conventions, routed through a
// TenantDB so a row-level-security policy on the table sees the
// calling environment ID via app.current_tenant_id.
type PostgresStore struct {
	db *database.TenantDB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: database.NewTenantDB(db)}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	connConfig, err := json.Marshal(sess.ConnectionConfig)
	if err != nil {
		return fmt.Errorf("marshaling connection config: %w", err)
	}

	const query = `
		INSERT INTO _nango_oauth_sessions (
			id, environment_id, provider_config_key, provider, auth_mode,
			connection_id, callback_url, code_verifier, connection_config,
			ws_client_id, activity_log_id, request_token_secret,
			client_id_override, client_secret_override,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.EnvironmentID, sess.ProviderConfigKey, sess.Provider, sess.AuthMode,
		sess.ConnectionID, sess.CallbackURL, sess.CodeVerifier, connConfig,
		sess.WebSocketClientID, sess.ActivityLogID, sess.RequestTokenSecret,
		nullString(sess.ClientIDOverride), nullString(sess.ClientSecretOverride),
		sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating oauth session: %w", err)
	}
	return nil
}

// FindAndDelete performs the lookup and delete in a single statement
// (DELETE ... RETURNING) so that of any two concurrent callers racing
// on the same id, the database guarantees at most one sees a row back.
// This is the single correctness anchor for at-most-once callback
// processing.
func (s *PostgresStore) FindAndDelete(ctx context.Context, id string) (*Session, error) {
	const query = `
		DELETE FROM _nango_oauth_sessions
		WHERE id = $1 AND expires_at > NOW()
		RETURNING id, environment_id, provider_config_key, provider, auth_mode,
			connection_id, callback_url, code_verifier, connection_config,
			ws_client_id, activity_log_id, request_token_secret,
			client_id_override, client_secret_override,
			created_at, expires_at
	`

	var sess Session
	var connConfig []byte
	var wsClientID, activityLogID, requestTokenSecret sql.NullString
	var clientIDOverride, clientSecretOverride sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.EnvironmentID, &sess.ProviderConfigKey, &sess.Provider, &sess.AuthMode,
		&sess.ConnectionID, &sess.CallbackURL, &sess.CodeVerifier, &connConfig,
		&wsClientID, &activityLogID, &requestTokenSecret,
		&clientIDOverride, &clientSecretOverride,
		&sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finding oauth session: %w", err)
	}

	sess.WebSocketClientID = wsClientID.String
	sess.ActivityLogID = activityLogID.String
	sess.RequestTokenSecret = requestTokenSecret.String
	sess.ClientIDOverride = clientIDOverride.String
	sess.ClientSecretOverride = clientSecretOverride.String

	if len(connConfig) > 0 {
		if err := json.Unmarshal(connConfig, &sess.ConnectionConfig); err != nil {
			return nil, fmt.Errorf("unmarshaling connection config: %w", err)
		}
	}

	return &sess, nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	const query = `DELETE FROM _nango_oauth_sessions WHERE expires_at <= $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
