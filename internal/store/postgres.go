package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/qa-scraper/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	advanceCursorSQL = `INSERT INTO rotation_cursors (scope, key, value) VALUES ($1, $2, 0)
ON CONFLICT (scope, key) DO UPDATE SET value = (rotation_cursors.value + 1) % $3
RETURNING value`
	insertResponseSQL = `INSERT INTO responses (id, question_id, source, content, url, scraped_at) VALUES ($1, $2, $3, $4, $5, $6)`
	listAccountsSQL   = `SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts WHERE site = $1 ORDER BY created_at, id`
)

// preparedStatements lists queries to prepare on each new connection. These
// run once per dispense or per extracted answer.
var preparedStatements = map[string]string{
	"advance_cursor":  advanceCursorSQL,
	"insert_response": insertResponseSQL,
	"list_accounts":   listAccountsSQL,
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
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	site          TEXT NOT NULL,
	identity      TEXT NOT NULL,
	secret_hash   TEXT NOT NULL,
	session_state JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (site, identity)
);

CREATE TABLE IF NOT EXISTS rotation_cursors (
	scope TEXT NOT NULL,
	key   TEXT NOT NULL,
	value INTEGER NOT NULL,
	PRIMARY KEY (scope, key)
);

CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	text       TEXT NOT NULL,
	category   TEXT,
	summary    TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS responses (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq         BIGSERIAL,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	source      TEXT NOT NULL,
	content     TEXT NOT NULL CHECK (content <> ''),
	url         TEXT NOT NULL CHECK (url <> ''),
	scraped_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_accounts_site ON accounts(site);
CREATE INDEX IF NOT EXISTS idx_questions_category ON questions(category);
CREATE INDEX IF NOT EXISTS idx_questions_unsummarized ON questions(created_at) WHERE summary IS NULL;
CREATE INDEX IF NOT EXISTS idx_responses_question_seq ON responses(question_id, scraped_at, seq);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, acct model.Account) (*model.Account, error) {
	acct.ID = uuid.New().String()
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	stateJSON, err := json.Marshal(acct.SessionState)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal session state")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (id, site, identity, secret_hash, session_state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.Site, acct.Identity, acct.SecretHash, stateJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert account %s@%s", acct.Identity, acct.Site)
	}
	return &acct, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts WHERE id = $1`,
		id,
	)
	acct, err := pgScanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "account %s", id)
	}
	return acct, err
}

// FindAccount returns nil, nil when no account matches.
func (s *PostgresStore) FindAccount(ctx context.Context, site, identity string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts WHERE site = $1 AND identity = $2`,
		site, identity,
	)
	acct, err := pgScanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return acct, err
}

func (s *PostgresStore) ListAccounts(ctx context.Context, site string) ([]model.Account, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if site == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, site, identity, secret_hash, session_state, created_at, updated_at FROM accounts ORDER BY created_at, id`,
		)
	} else {
		rows, err = s.pool.Query(ctx, listAccountsSQL, site)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accounts")
	}
	defer rows.Close()

	var accts []model.Account
	for rows.Next() {
		a, err := pgScanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, *a)
	}
	return accts, eris.Wrap(rows.Err(), "postgres: list accounts iterate")
}

func (s *PostgresStore) UpdateSessionState(ctx context.Context, id string, state model.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session state")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET session_state = $1, updated_at = $2 WHERE id = $3`,
		stateJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session state %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "account %s", id)
	}
	return nil
}

// --- Rotation cursor ---

// AdvanceCursor moves the scope's cursor to (value+1) mod poolSize and returns
// the new value. The upsert takes a row lock, so concurrent callers serialize
// on the cursor row.
func (s *PostgresStore) AdvanceCursor(ctx context.Context, scope string, poolSize int) (int, error) {
	if err := validatePoolSize(poolSize); err != nil {
		return 0, eris.Wrap(err, "postgres: advance cursor")
	}
	var next int
	if err := s.pool.QueryRow(ctx, advanceCursorSQL, scope, model.CursorKey, poolSize).Scan(&next); err != nil {
		return 0, eris.Wrapf(err, "postgres: advance cursor %s", scope)
	}
	return next, nil
}

// GetCursor returns -1 when the scope has never dispensed an account.
func (s *PostgresStore) GetCursor(ctx context.Context, scope string) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM rotation_cursors WHERE scope = $1 AND key = $2`,
		scope, model.CursorKey,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: get cursor %s", scope)
	}
	return v, nil
}

// --- Questions ---

func (s *PostgresStore) CreateQuestion(ctx context.Context, text string, category *model.Category) (*model.Question, error) {
	q := model.Question{
		ID:        uuid.New().String(),
		Text:      text,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, text, category, created_at) VALUES ($1, $2, $3, $4)`,
		q.ID, q.Text, nullCategory(category), q.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert question")
	}
	return &q, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, text, category, summary, created_at FROM questions WHERE id = $1`,
		id,
	)
	q, err := pgScanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "question %s", id)
	}
	return q, err
}

func (s *PostgresStore) ListQuestions(ctx context.Context, filter QuestionFilter) ([]model.Question, error) {
	query := `SELECT id, text, category, summary, created_at FROM questions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, string(filter.Category))
		argIdx++
	}
	if filter.Unsummarized {
		query += ` AND summary IS NULL`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list questions")
	}
	defer rows.Close()

	var qs []model.Question
	for rows.Next() {
		q, err := pgScanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, *q)
	}
	return qs, eris.Wrap(rows.Err(), "postgres: list questions iterate")
}

func (s *PostgresStore) SetCategory(ctx context.Context, id string, category model.Category) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE questions SET category = $1 WHERE id = $2`,
		string(category), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set category %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "question %s", id)
	}
	return nil
}

func (s *PostgresStore) SetSummary(ctx context.Context, id string, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE questions SET summary = $1 WHERE id = $2`,
		summary, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set summary %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "question %s", id)
	}
	return nil
}

// --- Responses ---

func (s *PostgresStore) CreateResponse(ctx context.Context, resp model.Response) (*model.Response, error) {
	resp.ID = uuid.New().String()
	if resp.ScrapedAt.IsZero() {
		resp.ScrapedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertResponseSQL,
		resp.ID, resp.QuestionID, resp.Source, resp.Content, resp.URL, resp.ScrapedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert response for question %s", resp.QuestionID)
	}
	return &resp, nil
}

// ListResponses returns a question's responses in creation order.
func (s *PostgresStore) ListResponses(ctx context.Context, questionID string) ([]model.Response, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, question_id, source, content, url, scraped_at FROM responses WHERE question_id = $1 ORDER BY scraped_at, seq`,
		questionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list responses %s", questionID)
	}
	defer rows.Close()

	var out []model.Response
	for rows.Next() {
		var r model.Response
		if err := rows.Scan(&r.ID, &r.QuestionID, &r.Source, &r.Content, &r.URL, &r.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan response")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list responses iterate")
}

func pgScanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var stateJSON []byte
	err := row.Scan(&a.ID, &a.Site, &a.Identity, &a.SecretHash, &stateJSON, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan account")
	}
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &a.SessionState); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal session state %s", a.ID)
		}
	}
	return &a, nil
}

func pgScanQuestion(row pgx.Row) (*model.Question, error) {
	var q model.Question
	var category, summary *string
	err := row.Scan(&q.ID, &q.Text, &category, &summary, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan question")
	}
	if category != nil {
		c := model.Category(*category)
		q.Category = &c
	}
	q.Summary = summary
	return &q, nil
}
