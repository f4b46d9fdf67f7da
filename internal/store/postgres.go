package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		did           TEXT PRIMARY KEY,
		public_key    TEXT NOT NULL,
		wallet_proof  TEXT NOT NULL DEFAULT '',
		blocked_dids  TEXT[] NOT NULL DEFAULT '{}',
		session_state TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		chat_id           TEXT PRIMARY KEY,
		is_group          BOOLEAN NOT NULL,
		group_type        TEXT NOT NULL DEFAULT 'default',
		combined_did      TEXT NOT NULL,
		admins            TEXT NOT NULL DEFAULT '',
		intent            TEXT NOT NULL DEFAULT '',
		intent_sent_by    TEXT NOT NULL DEFAULT '',
		session_key       TEXT NOT NULL DEFAULT '',
		rules             JSONB,
		threadhash        TEXT NOT NULL DEFAULT '',
		group_name        TEXT NOT NULL DEFAULT '',
		group_description TEXT NOT NULL DEFAULT '',
		group_image       TEXT NOT NULL DEFAULT '',
		is_public         BOOLEAN NOT NULL DEFAULT TRUE,
		meta              TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT '',
		schedule_at       TIMESTAMPTZ,
		schedule_end      TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chats_direct_combined
		ON chats (combined_did) WHERE is_group = FALSE`,
	`CREATE TABLE IF NOT EXISTS chat_members (
		chat_id    TEXT NOT NULL,
		address    TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT 'member',
		intent     BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chat_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		reference    TEXT PRIMARY KEY,
		chat_id      TEXT NOT NULL,
		from_did     TEXT NOT NULL,
		to_did       TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content      BYTEA NOT NULL,
		link         TEXT NOT NULL DEFAULT '',
		proof        TEXT NOT NULL,
		session_key  TEXT NOT NULL DEFAULT '',
		ts           TIMESTAMPTZ NOT NULL,
		persisted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_chat_ts ON messages (chat_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS session_keys (
		reference        TEXT PRIMARY KEY,
		chat_id          TEXT NOT NULL,
		encrypted_secret TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS proof_audits (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL,
		signer     TEXT NOT NULL,
		scheme     TEXT NOT NULL,
		proof      TEXT NOT NULL,
		digest     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS member_delta_audits (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL,
		signer     TEXT NOT NULL,
		proof      TEXT NOT NULL,
		delta      JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigrations applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetProfile retrieves an identity record by DID.
func (s *PostgresStore) GetProfile(ctx context.Context, didStr string) (*models.Profile, error) {
	p := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		SELECT did, public_key, wallet_proof, blocked_dids, session_state, created_at, updated_at
		FROM profiles WHERE did = $1
	`, didStr).Scan(
		&p.DID,
		&p.PublicKey,
		&p.WalletProof,
		&p.BlockedDIDs,
		&p.SessionState,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// UpsertProfile creates or replaces an identity record.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (did, public_key, wallet_proof, blocked_dids, session_state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (did) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			wallet_proof = EXCLUDED.wallet_proof,
			blocked_dids = EXCLUDED.blocked_dids,
			session_state = EXCLUDED.session_state,
			updated_at = NOW()
	`, p.DID, p.PublicKey, p.WalletProof, p.BlockedDIDs, p.SessionState)
	return err
}

const chatColumns = `chat_id, is_group, group_type, combined_did, admins, intent, intent_sent_by,
	session_key, rules, threadhash, group_name, group_description, group_image, is_public,
	meta, status, schedule_at, schedule_end, created_at, updated_at`

func scanChat(row pgx.Row) (*models.Chat, error) {
	c := &models.Chat{}
	var rulesJSON []byte
	err := row.Scan(
		&c.ChatID,
		&c.IsGroup,
		&c.GroupType,
		&c.CombinedDID,
		&c.Admins,
		&c.Intent,
		&c.IntentSentBy,
		&c.SessionKey,
		&rulesJSON,
		&c.Threadhash,
		&c.GroupName,
		&c.GroupDescription,
		&c.GroupImage,
		&c.IsPublic,
		&c.Meta,
		&c.Status,
		&c.ScheduleAt,
		&c.ScheduleEnd,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(rulesJSON) > 0 {
		rs := &rules.RuleSet{}
		if err := json.Unmarshal(rulesJSON, rs); err != nil {
			return nil, err
		}
		c.Rules = rs
	}
	return c, nil
}

func marshalRules(rs *rules.RuleSet) ([]byte, error) {
	if rs == nil {
		return nil, nil
	}
	return json.Marshal(rs)
}

// CreateChat inserts a new chat row.
func (s *PostgresStore) CreateChat(ctx context.Context, c *models.Chat) error {
	rulesJSON, err := marshalRules(c.Rules)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO chats (chat_id, is_group, group_type, combined_did, admins, intent,
			intent_sent_by, session_key, rules, threadhash, group_name, group_description,
			group_image, is_public, meta, status, schedule_at, schedule_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`, c.ChatID, c.IsGroup, c.GroupType, c.CombinedDID, c.Admins, c.Intent,
		c.IntentSentBy, c.SessionKey, rulesJSON, c.Threadhash, c.GroupName, c.GroupDescription,
		c.GroupImage, c.IsPublic, c.Meta, c.Status, c.ScheduleAt, c.ScheduleEnd,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetChat retrieves a chat by id.
func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	return scanChat(s.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE chat_id = $1`, chatID))
}

// GetChatByCombinedDID retrieves a direct chat by its participant projection.
func (s *PostgresStore) GetChatByCombinedDID(ctx context.Context, combined string) (*models.Chat, error) {
	return scanChat(s.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE combined_did = $1 AND is_group = FALSE`, combined))
}

// UpdateChat replaces the mutable chat columns.
func (s *PostgresStore) UpdateChat(ctx context.Context, c *models.Chat) error {
	rulesJSON, err := marshalRules(c.Rules)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE chats SET
			combined_did = $2, admins = $3, intent = $4, session_key = $5, rules = $6,
			threadhash = $7, group_name = $8, group_description = $9, group_image = $10,
			is_public = $11, meta = $12, status = $13, schedule_at = $14, schedule_end = $15,
			updated_at = NOW()
		WHERE chat_id = $1
	`, c.ChatID, c.CombinedDID, c.Admins, c.Intent, c.SessionKey, rulesJSON,
		c.Threadhash, c.GroupName, c.GroupDescription, c.GroupImage,
		c.IsPublic, c.Meta, c.Status, c.ScheduleAt, c.ScheduleEnd)
	return err
}

// DeleteChat removes a chat and its member rows.
func (s *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_members WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListMembers returns all member rows of a chat.
func (s *PostgresStore) ListMembers(ctx context.Context, chatID string) ([]models.ChatMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chat_id, address, role, intent, updated_at
		FROM chat_members WHERE chat_id = $1
		ORDER BY address
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ChatMember
	for rows.Next() {
		var m models.ChatMember
		if err := rows.Scan(&m.ChatID, &m.Address, &m.Role, &m.Intent, &m.UpdatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpsertMembers inserts or updates member rows in one transaction.
func (s *PostgresStore) UpsertMembers(ctx context.Context, chatID string, members []models.ChatMember) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range members {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, address, role, intent)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chat_id, address) DO UPDATE SET
				role = EXCLUDED.role,
				intent = EXCLUDED.intent,
				updated_at = NOW()
		`, chatID, m.Address, m.Role, m.Intent)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RemoveMembers deletes member rows in bulk.
func (s *PostgresStore) RemoveMembers(ctx context.Context, chatID string, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chat_members WHERE chat_id = $1 AND address = ANY($2)`,
		chatID, addresses)
	return err
}

// ListExpiredSpaces returns spaces whose scheduled end passed before cutoff.
func (s *PostgresStore) ListExpiredSpaces(ctx context.Context, cutoff time.Time) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE group_type = 'spaces' AND schedule_end IS NOT NULL AND schedule_end < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// PutMessage inserts a stored message. Duplicate references are idempotent:
// the content-derived id guarantees the bytes are identical.
func (s *PostgresStore) PutMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (reference, chat_id, from_did, to_did, message_type,
			content, link, proof, session_key, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reference) DO NOTHING
	`, m.Reference, m.ChatID, m.FromDID, m.ToDID, m.Type,
		m.Content, m.Link, m.Proof, m.SessionKey, m.Timestamp)
	return err
}

// GetMessage retrieves a message by reference.
func (s *PostgresStore) GetMessage(ctx context.Context, reference string) (*models.Message, error) {
	m := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT reference, chat_id, from_did, to_did, message_type, content, link,
			proof, session_key, ts, persisted_at
		FROM messages WHERE reference = $1
	`, reference).Scan(
		&m.Reference, &m.ChatID, &m.FromDID, &m.ToDID, &m.Type, &m.Content,
		&m.Link, &m.Proof, &m.SessionKey, &m.Timestamp, &m.PersistedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListMessages retrieves a chat's messages newest first, older than before.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reference, chat_id, from_did, to_did, message_type, content, link,
			proof, session_key, ts, persisted_at
		FROM messages
		WHERE chat_id = $1 AND ts < $2
		ORDER BY ts DESC
		LIMIT $3
	`, chatID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.Reference, &m.ChatID, &m.FromDID, &m.ToDID, &m.Type,
			&m.Content, &m.Link, &m.Proof, &m.SessionKey, &m.Timestamp, &m.PersistedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteChatMessages removes all messages of a chat and returns the deleted
// references so callers can unpin replicated content.
func (s *PostgresStore) DeleteChatMessages(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM messages WHERE chat_id = $1 RETURNING reference`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// PutSessionKey appends a session-key row. Rows are immutable.
func (s *PostgresStore) PutSessionKey(ctx context.Context, k *models.SessionKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_keys (reference, chat_id, encrypted_secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (reference) DO NOTHING
	`, k.Reference, k.ChatID, k.EncryptedSecret)
	return err
}

// GetSessionKey retrieves a session key by reference.
func (s *PostgresStore) GetSessionKey(ctx context.Context, reference string) (*models.SessionKey, error) {
	k := &models.SessionKey{}
	err := s.pool.QueryRow(ctx, `
		SELECT reference, chat_id, encrypted_secret, created_at
		FROM session_keys WHERE reference = $1
	`, reference).Scan(&k.Reference, &k.ChatID, &k.EncryptedSecret, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return k, nil
}

// AppendProofAudit records an accepted proof.
func (s *PostgresStore) AppendProofAudit(ctx context.Context, a *models.ProofAudit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proof_audits (id, chat_id, signer, scheme, proof, digest)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.ChatID, a.Signer, a.Scheme, a.Proof, a.Digest)
	return err
}

// AppendMemberDelta records a raw membership delta.
func (s *PostgresStore) AppendMemberDelta(ctx context.Context, a *models.MemberDeltaAudit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO member_delta_audits (id, chat_id, signer, proof, delta)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.ChatID, a.Signer, a.Proof, a.Delta)
	return err
}
