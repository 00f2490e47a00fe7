package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/client-linker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	business_name  TEXT NOT NULL,
	business_email TEXT NOT NULL DEFAULT '',
	extra_emails   TEXT NOT NULL DEFAULT '[]',
	contact_first  TEXT NOT NULL DEFAULT '',
	contact_last   TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active',
	notes          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transcripts (
	id              TEXT PRIMARY KEY,
	external_id     TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	meeting_date    DATETIME NOT NULL,
	duration_secs   INTEGER NOT NULL DEFAULT 0,
	participants    TEXT NOT NULL DEFAULT '[]',
	body            TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	linking_status  TEXT NOT NULL DEFAULT 'unlinked',
	client_id       TEXT,
	last_attempt_at DATETIME,
	version         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(owner_id, external_id)
);

CREATE TABLE IF NOT EXISTS resolution_attempts (
	id            TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	stage         TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	confidence    REAL,
	client_id     TEXT,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_secrets (
	owner_id   TEXT PRIMARY KEY,
	secret     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients(owner_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_owner ON transcripts(owner_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_status ON transcripts(linking_status);
CREATE INDEX IF NOT EXISTS idx_attempts_transcript ON resolution_attempts(transcript_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateClient(ctx context.Context, c *model.Client) error {
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
	extraList := c.ExtraEmails
	if extraList == nil {
		extraList = []string{}
	}

	extras, err := json.Marshal(extraList)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal emails")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (id, owner_id, business_name, business_email, extra_emails, contact_first, contact_last, status, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.BusinessName, c.BusinessEmail, string(extras),
		c.ContactFirst, c.ContactLast, string(c.Status), c.Notes, now, now)
	return eris.Wrap(err, "sqlite: insert client")
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, business_name, business_email, extra_emails, contact_first, contact_last, status, notes, created_at, updated_at
		 FROM clients WHERE id = ?`, id)
	return scanSQLiteClient(row)
}

func (s *SQLiteStore) ListClientsByOwner(ctx context.Context, ownerID string) ([]model.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, business_name, business_email, extra_emails, contact_first, contact_last, status, notes, created_at, updated_at
		 FROM clients WHERE owner_id = ? ORDER BY business_name`, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clients")
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		c, err := scanSQLiteClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clients rows")
}

func (s *SQLiteStore) AddClientEmail(ctx context.Context, clientID, email string) error {
	c, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	norm := model.NormalizeEmail(email)
	if norm == "" {
		return eris.New("sqlite: empty email")
	}
	if c.HasEmail(norm) {
		return nil
	}
	extras, err := json.Marshal(append(c.ExtraEmails, norm))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal emails")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET extra_emails = ?, updated_at = ? WHERE id = ?`,
		string(extras), time.Now().UTC(), clientID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add client email %s", clientID)
	}
	return checkSQLiteRows(res, ErrNotFound)
}

func (s *SQLiteStore) CreateTranscript(ctx context.Context, t *model.Transcript) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.LinkingStatus == "" {
		t.LinkingStatus = model.LinkingStatusUnlinked
	}

	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal participants")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, external_id, owner_id, title, meeting_date, duration_secs, participants, body, notes, linking_status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(owner_id, external_id) DO NOTHING`,
		t.ID, t.ExternalID, t.OwnerID, t.Title, t.MeetingDate.UTC(), t.DurationSecs,
		string(participants), t.Body, t.Notes, string(t.LinkingStatus), now, now)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert transcript")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.GetTranscriptByExternalID(ctx, t.OwnerID, t.ExternalID)
		if err != nil {
			return false, err
		}
		*t = *existing
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (*model.Transcript, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectTranscript+` WHERE id = ?`, id)
	return scanSQLiteTranscript(row)
}

func (s *SQLiteStore) GetTranscriptByExternalID(ctx context.Context, ownerID, externalID string) (*model.Transcript, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectTranscript+` WHERE owner_id = ? AND external_id = ?`, ownerID, externalID)
	return scanSQLiteTranscript(row)
}

const sqliteSelectTranscript = `SELECT id, external_id, owner_id, title, meeting_date, duration_secs, participants, body, notes, linking_status, client_id, last_attempt_at, version, created_at, updated_at FROM transcripts`

func (s *SQLiteStore) ListTranscripts(ctx context.Context, filter TranscriptFilter) ([]model.Transcript, error) {
	query := sqliteSelectTranscript + ` WHERE 1=1`
	var args []any
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += ` AND linking_status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.UpdatedBefore.UTC())
	}
	query += ` ORDER BY meeting_date DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transcripts")
	}
	defer rows.Close()

	var out []model.Transcript
	for rows.Next() {
		t, err := scanSQLiteTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transcripts rows")
}

func (s *SQLiteStore) LinkTranscript(ctx context.Context, id, clientID string, status model.LinkingStatus, expectedVersion int) error {
	if !status.Linked() {
		return eris.Errorf("sqlite: link with non-linked status %s", status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET linking_status = ?, client_id = ?, last_attempt_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(status), clientID, now, now, id, expectedVersion)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link transcript %s", id)
	}
	return checkSQLiteRows(res, ErrVersionConflict)
}

func (s *SQLiteStore) SetTranscriptStatus(ctx context.Context, id string, status model.LinkingStatus, expectedVersion int) error {
	if status.Linked() {
		return eris.Errorf("sqlite: status %s requires LinkTranscript", status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET linking_status = ?, client_id = NULL, last_attempt_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(status), now, now, id, expectedVersion)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set transcript status %s", id)
	}
	return checkSQLiteRows(res, ErrVersionConflict)
}

func (s *SQLiteStore) UnlinkTranscript(ctx context.Context, id string, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET linking_status = ?, client_id = NULL, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(model.LinkingStatusUnlinked), now, id, expectedVersion)
	if err != nil {
		return eris.Wrapf(err, "sqlite: unlink transcript %s", id)
	}
	return checkSQLiteRows(res, ErrVersionConflict)
}

func (s *SQLiteStore) AppendAttempt(ctx context.Context, a *model.ResolutionAttempt) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resolution_attempts (id, transcript_id, stage, outcome, confidence, client_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TranscriptID, string(a.Stage), string(a.Outcome), confidence, nullIfEmpty(a.ClientID), a.Reason, a.CreatedAt)
	return eris.Wrap(err, "sqlite: append attempt")
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, transcriptID string) ([]model.ResolutionAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transcript_id, stage, outcome, confidence, client_id, reason, created_at
		 FROM resolution_attempts WHERE transcript_id = ? ORDER BY created_at`, transcriptID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attempts")
	}
	defer rows.Close()

	var out []model.ResolutionAttempt
	for rows.Next() {
		var (
			a          model.ResolutionAttempt
			stage      string
			outcome    string
			confidence sql.NullFloat64
			clientID   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TranscriptID, &stage, &outcome, &confidence, &clientID, &a.Reason, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		a.Stage = model.AttemptStage(stage)
		a.Outcome = model.AttemptOutcome(outcome)
		if confidence.Valid {
			v := confidence.Float64
			a.Confidence = &v
		}
		a.ClientID = clientID.String
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attempts rows")
}

func (s *SQLiteStore) GetWebhookSecret(ctx context.Context, ownerID string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx,
		`SELECT secret FROM webhook_secrets WHERE owner_id = ?`, ownerID).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "sqlite: get webhook secret")
	}
	return secret, nil
}

func (s *SQLiteStore) SetWebhookSecret(ctx context.Context, ownerID, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_secrets (owner_id, secret) VALUES (?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET secret = excluded.secret`,
		ownerID, secret)
	return eris.Wrap(err, "sqlite: set webhook secret")
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteClient(row rowScanner) (*model.Client, error) {
	var (
		c      model.Client
		extras string
		status string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.BusinessName, &c.BusinessEmail, &extras,
		&c.ContactFirst, &c.ContactLast, &status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan client")
	}
	c.Status = model.ClientStatus(status)
	if err := json.Unmarshal([]byte(extras), &c.ExtraEmails); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal extra emails")
	}
	return &c, nil
}

func scanSQLiteTranscript(row rowScanner) (*model.Transcript, error) {
	var (
		t            model.Transcript
		participants string
		status       string
		clientID     sql.NullString
		lastAttempt  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ExternalID, &t.OwnerID, &t.Title, &t.MeetingDate, &t.DurationSecs,
		&participants, &t.Body, &t.Notes, &status, &clientID, &lastAttempt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan transcript")
	}
	t.LinkingStatus = model.LinkingStatus(status)
	t.ClientID = clientID.String
	if lastAttempt.Valid {
		ts := lastAttempt.Time
		t.LastAttemptAt = &ts
	}
	if err := json.Unmarshal([]byte(participants), &t.Participants); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal participants")
	}
	return &t, nil
}

func checkSQLiteRows(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
