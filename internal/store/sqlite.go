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

	"github.com/sells-group/qa-scraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// All access goes through one connection so per-connection pragmas hold and
// writers never contend.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	site          TEXT NOT NULL,
	identity      TEXT NOT NULL,
	secret_hash   TEXT NOT NULL,
	session_state TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (site, identity)
);

CREATE TABLE IF NOT EXISTS rotation_cursors (
	scope TEXT NOT NULL,
	key   TEXT NOT NULL,
	value INTEGER NOT NULL,
	PRIMARY KEY (scope, key)
);

CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	category   TEXT,
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS responses (
	id          TEXT PRIMARY KEY,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	source      TEXT NOT NULL,
	content     TEXT NOT NULL,
	url         TEXT NOT NULL,
	scraped_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_accounts_site ON accounts(site);
CREATE INDEX IF NOT EXISTS idx_questions_category ON questions(category);
CREATE INDEX IF NOT EXISTS idx_responses_question_id ON responses(question_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, acct model.Account) (*model.Account, error) {
	acct.ID = uuid.New().String()
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	stateJSON, err := json.Marshal(acct.SessionState)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal session state")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, site, identity, secret_hash, session_state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Site, acct.Identity, acct.SecretHash, string(stateJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert account %s@%s", acct.Identity, acct.Site)
	}
	return &acct, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts WHERE id = ?`,
		id,
	)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "account %s", id)
	}
	return acct, err
}

// FindAccount returns nil, nil when no account matches.
func (s *SQLiteStore) FindAccount(ctx context.Context, site, identity string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts WHERE site = ? AND identity = ?`,
		site, identity,
	)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return acct, err
}

// ListAccounts returns the pool for site in stable rotation order. An empty
// site lists every account.
func (s *SQLiteStore) ListAccounts(ctx context.Context, site string) ([]model.Account, error) {
	query := `SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts`
	var args []any
	if site != "" {
		query += ` WHERE site = ?`
		args = append(args, site)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounts")
	}
	defer rows.Close() //nolint:errcheck

	var accts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, *a)
	}
	return accts, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

func (s *SQLiteStore) UpdateSessionState(ctx context.Context, id string, state model.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session state")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET session_state = ?, updated_at = ? WHERE id = ?`,
		string(stateJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session state %s", id)
	}
	return checkRowsAffected(res, "account", id)
}

// --- Rotation cursor ---

// AdvanceCursor moves the scope's cursor to (value+1) mod poolSize and returns
// the new value in a single statement. An absent cursor counts as -1.
func (s *SQLiteStore) AdvanceCursor(ctx context.Context, scope string, poolSize int) (int, error) {
	if err := validatePoolSize(poolSize); err != nil {
		return 0, eris.Wrap(err, "sqlite: advance cursor")
	}
	var next int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rotation_cursors (scope, key, value) VALUES (?, ?, 0)
		 ON CONFLICT(scope, key) DO UPDATE SET value = (rotation_cursors.value + 1) % ?
		 RETURNING value`,
		scope, model.CursorKey, poolSize,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: advance cursor %s", scope)
	}
	return next, nil
}

// GetCursor returns -1 when the scope has never dispensed an account.
func (s *SQLiteStore) GetCursor(ctx context.Context, scope string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM rotation_cursors WHERE scope = ? AND key = ?`,
		scope, model.CursorKey,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: get cursor %s", scope)
	}
	return v, nil
}

// --- Questions ---

func (s *SQLiteStore) CreateQuestion(ctx context.Context, text string, category *model.Category) (*model.Question, error) {
	q := model.Question{
		ID:        uuid.New().String(),
		Text:      text,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, text, category, created_at) VALUES (?, ?, ?, ?)`,
		q.ID, q.Text, nullCategory(category), q.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert question")
	}
	return &q, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, category, summary, created_at FROM questions WHERE id = ?`,
		id,
	)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "question %s", id)
	}
	return q, err
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, filter QuestionFilter) ([]model.Question, error) {
	query := `SELECT id, text, category, summary, created_at FROM questions WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.Unsummarized {
		query += ` AND summary IS NULL`
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list questions")
	}
	defer rows.Close() //nolint:errcheck

	var qs []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, *q)
	}
	return qs, eris.Wrap(rows.Err(), "sqlite: list questions iterate")
}

func (s *SQLiteStore) SetCategory(ctx context.Context, id string, category model.Category) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET category = ? WHERE id = ?`,
		string(category), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set category %s", id)
	}
	return checkRowsAffected(res, "question", id)
}

func (s *SQLiteStore) SetSummary(ctx context.Context, id string, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET summary = ? WHERE id = ?`,
		summary, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set summary %s", id)
	}
	return checkRowsAffected(res, "question", id)
}

// --- Responses ---

func (s *SQLiteStore) CreateResponse(ctx context.Context, resp model.Response) (*model.Response, error) {
	resp.ID = uuid.New().String()
	if resp.ScrapedAt.IsZero() {
		resp.ScrapedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (id, question_id, source, content, url, scraped_at) VALUES (?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.QuestionID, resp.Source, resp.Content, resp.URL, resp.ScrapedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert response for question %s", resp.QuestionID)
	}
	return &resp, nil
}

// ListResponses returns a question's responses in insertion order.
func (s *SQLiteStore) ListResponses(ctx context.Context, questionID string) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, source, content, url, scraped_at FROM responses WHERE question_id = ? ORDER BY rowid`,
		questionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list responses %s", questionID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Response
	for rows.Next() {
		var r model.Response
		if err := rows.Scan(&r.ID, &r.QuestionID, &r.Source, &r.Content, &r.URL, &r.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan response")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list responses iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAccount(row scannable) (*model.Account, error) {
	var a model.Account
	var stateJSON string
	err := row.Scan(&a.ID, &a.Site, &a.Identity, &a.SecretHash, &stateJSON, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan account")
	}
	if err := json.Unmarshal([]byte(stateJSON), &a.SessionState); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal session state %s", a.ID)
	}
	return &a, nil
}

func scanQuestion(row scannable) (*model.Question, error) {
	var q model.Question
	var category, summary sql.NullString
	err := row.Scan(&q.ID, &q.Text, &category, &summary, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan question")
	}
	if category.Valid {
		c := model.Category(category.String)
		q.Category = &c
	}
	if summary.Valid {
		sm := summary.String
		q.Summary = &sm
	}
	return &q, nil
}

func nullCategory(c *model.Category) any {
	if c == nil || *c == "" {
		return nil
	}
	return string(*c)
}
