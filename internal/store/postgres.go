package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/client-linker/internal/db"
	"github.com/sells-group/client-linker/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot resolution path.
var preparedStatements = map[string]string{
	"get_transcript":     pgSelectTranscript + ` WHERE id = $1`,
	"link_transcript":    `UPDATE transcripts SET linking_status = $1, client_id = $2, last_attempt_at = $3, version = version + 1, updated_at = $3 WHERE id = $4 AND version = $5`,
	"append_attempt":     `INSERT INTO resolution_attempts (id, transcript_id, stage, outcome, confidence, client_id, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"list_attempts":      `SELECT id, transcript_id, stage, outcome, confidence, client_id, reason, created_at FROM resolution_attempts WHERE transcript_id = $1 ORDER BY created_at`,
	"get_webhook_secret": `SELECT secret FROM webhook_secrets WHERE owner_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id       TEXT NOT NULL,
	business_name  TEXT NOT NULL,
	business_email TEXT NOT NULL DEFAULT '',
	extra_emails   JSONB NOT NULL DEFAULT '[]',
	contact_first  TEXT NOT NULL DEFAULT '',
	contact_last   TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active',
	notes          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transcripts (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id     TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	meeting_date    TIMESTAMPTZ NOT NULL,
	duration_secs   INTEGER NOT NULL DEFAULT 0,
	participants    JSONB NOT NULL DEFAULT '[]',
	body            TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	linking_status  TEXT NOT NULL DEFAULT 'unlinked',
	client_id       TEXT,
	last_attempt_at TIMESTAMPTZ,
	version         INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(owner_id, external_id)
);

CREATE TABLE IF NOT EXISTS resolution_attempts (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	stage         TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	confidence    DOUBLE PRECISION,
	client_id     TEXT,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_secrets (
	owner_id   TEXT PRIMARY KEY,
	secret     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients(owner_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_owner ON transcripts(owner_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_status ON transcripts(linking_status);
CREATE INDEX IF NOT EXISTS idx_attempts_transcript ON resolution_attempts(transcript_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgSelectClient = `SELECT id, owner_id, business_name, business_email, extra_emails, contact_first, contact_last, status, notes, created_at, updated_at FROM clients`

func (s *PostgresStore) CreateClient(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ClientStatusActive
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	normalizeClientEmails(c)
	extras := c.ExtraEmails
	if extras == nil {
		extras = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO clients (id, owner_id, business_name, business_email, extra_emails, contact_first, contact_last, status, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		c.ID, c.OwnerID, c.BusinessName, c.BusinessEmail, extras,
		c.ContactFirst, c.ContactLast, string(c.Status), c.Notes, now)
	return eris.Wrap(err, "postgres: insert client")
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	row := s.pool.QueryRow(ctx, pgSelectClient+` WHERE id = $1`, id)
	return scanPGClient(row)
}

func (s *PostgresStore) ListClientsByOwner(ctx context.Context, ownerID string) ([]model.Client, error) {
	rows, err := s.pool.Query(ctx, pgSelectClient+` WHERE owner_id = $1 ORDER BY business_name`, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clients")
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		c, err := scanPGClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clients rows")
}

func (s *PostgresStore) AddClientEmail(ctx context.Context, clientID, email string) error {
	norm := model.NormalizeEmail(email)
	if norm == "" {
		return eris.New("postgres: empty email")
	}
	// Append inside the database so concurrent appends don't lose writes;
	// the containment check keeps the set duplicate-free.
	tag, err := s.pool.Exec(ctx,
		`UPDATE clients SET extra_emails = extra_emails || to_jsonb($1::text), updated_at = now()
		 WHERE id = $2 AND NOT (extra_emails @> to_jsonb($1::text)) AND business_email <> $1`,
		norm, clientID)
	if err != nil {
		return eris.Wrapf(err, "postgres: add client email %s", clientID)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already present; distinguish for the caller.
		if _, err := s.GetClient(ctx, clientID); err != nil {
			return err
		}
	}
	return nil
}

const pgSelectTranscript = `SELECT id, external_id, owner_id, title, meeting_date, duration_secs, participants, body, notes, linking_status, client_id, last_attempt_at, version, created_at, updated_at FROM transcripts`

func (s *PostgresStore) CreateTranscript(ctx context.Context, t *model.Transcript) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.LinkingStatus == "" {
		t.LinkingStatus = model.LinkingStatusUnlinked
	}
	participants := t.Participants
	if participants == nil {
		participants = []string{}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (id, external_id, owner_id, title, meeting_date, duration_secs, participants, body, notes, linking_status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)
		 ON CONFLICT (owner_id, external_id) DO NOTHING`,
		t.ID, t.ExternalID, t.OwnerID, t.Title, t.MeetingDate.UTC(), t.DurationSecs,
		participants, t.Body, t.Notes, string(t.LinkingStatus), now)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert transcript")
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetTranscriptByExternalID(ctx, t.OwnerID, t.ExternalID)
		if err != nil {
			return false, err
		}
		*t = *existing
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, id string) (*model.Transcript, error) {
	row := s.pool.QueryRow(ctx, pgSelectTranscript+` WHERE id = $1`, id)
	return scanPGTranscript(row)
}

func (s *PostgresStore) GetTranscriptByExternalID(ctx context.Context, ownerID, externalID string) (*model.Transcript, error) {
	row := s.pool.QueryRow(ctx, pgSelectTranscript+` WHERE owner_id = $1 AND external_id = $2`, ownerID, externalID)
	return scanPGTranscript(row)
}

func (s *PostgresStore) ListTranscripts(ctx context.Context, filter TranscriptFilter) ([]model.Transcript, error) {
	query := pgSelectTranscript + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ` + arg(filter.OwnerID)
	}
	if filter.Status != "" {
		query += ` AND linking_status = ` + arg(string(filter.Status))
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ` + arg(filter.UpdatedBefore.UTC())
	}
	query += ` ORDER BY meeting_date DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transcripts")
	}
	defer rows.Close()

	var out []model.Transcript
	for rows.Next() {
		t, err := scanPGTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transcripts rows")
}

func (s *PostgresStore) LinkTranscript(ctx context.Context, id, clientID string, status model.LinkingStatus, expectedVersion int) error {
	if !status.Linked() {
		return eris.Errorf("postgres: link with non-linked status %s", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE transcripts SET linking_status = $1, client_id = $2, last_attempt_at = $3, version = version + 1, updated_at = $3 WHERE id = $4 AND version = $5`,
		string(status), clientID, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return eris.Wrapf(err, "postgres: link transcript %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) SetTranscriptStatus(ctx context.Context, id string, status model.LinkingStatus, expectedVersion int) error {
	if status.Linked() {
		return eris.Errorf("postgres: status %s requires LinkTranscript", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE transcripts SET linking_status = $1, client_id = NULL, last_attempt_at = $2, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		string(status), time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return eris.Wrapf(err, "postgres: set transcript status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) UnlinkTranscript(ctx context.Context, id string, expectedVersion int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transcripts SET linking_status = $1, client_id = NULL, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		string(model.LinkingStatusUnlinked), time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return eris.Wrapf(err, "postgres: unlink transcript %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) AppendAttempt(ctx context.Context, a *model.ResolutionAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var confidence any
	if a.Confidence != nil {
		confidence = *a.Confidence
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolution_attempts (id, transcript_id, stage, outcome, confidence, client_id, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TranscriptID, string(a.Stage), string(a.Outcome), confidence, nullIfEmpty(a.ClientID), a.Reason, a.CreatedAt)
	return eris.Wrap(err, "postgres: append attempt")
}

func (s *PostgresStore) ListAttempts(ctx context.Context, transcriptID string) ([]model.ResolutionAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, transcript_id, stage, outcome, confidence, client_id, reason, created_at FROM resolution_attempts WHERE transcript_id = $1 ORDER BY created_at`,
		transcriptID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attempts")
	}
	defer rows.Close()

	var out []model.ResolutionAttempt
	for rows.Next() {
		var (
			a          model.ResolutionAttempt
			stage      string
			outcome    string
			confidence *float64
			clientID   *string
		)
		if err := rows.Scan(&a.ID, &a.TranscriptID, &stage, &outcome, &confidence, &clientID, &a.Reason, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		a.Stage = model.AttemptStage(stage)
		a.Outcome = model.AttemptOutcome(outcome)
		a.Confidence = confidence
		if clientID != nil {
			a.ClientID = *clientID
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list attempts rows")
}

func (s *PostgresStore) GetWebhookSecret(ctx context.Context, ownerID string) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx, `SELECT secret FROM webhook_secrets WHERE owner_id = $1`, ownerID).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "postgres: get webhook secret")
	}
	return secret, nil
}

func (s *PostgresStore) SetWebhookSecret(ctx context.Context, ownerID, secret string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_secrets (owner_id, secret) VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET secret = EXCLUDED.secret`,
		ownerID, secret)
	return eris.Wrap(err, "postgres: set webhook secret")
}

func scanPGClient(row pgx.Row) (*model.Client, error) {
	var (
		c      model.Client
		status string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.BusinessName, &c.BusinessEmail, &c.ExtraEmails,
		&c.ContactFirst, &c.ContactLast, &status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan client")
	}
	c.Status = model.ClientStatus(status)
	return &c, nil
}

func scanPGTranscript(row pgx.Row) (*model.Transcript, error) {
	var (
		t           model.Transcript
		status      string
		clientID    *string
		lastAttempt *time.Time
	)
	err := row.Scan(&t.ID, &t.ExternalID, &t.OwnerID, &t.Title, &t.MeetingDate, &t.DurationSecs,
		&t.Participants, &t.Body, &t.Notes, &status, &clientID, &lastAttempt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan transcript")
	}
	t.LinkingStatus = model.LinkingStatus(status)
	if clientID != nil {
		t.ClientID = *clientID
	}
	t.LastAttemptAt = lastAttempt
	return &t, nil
}

