// Package accounts dispenses site accounts in round-robin order. Rotation
// state lives in the store so every process sharing the database rotates
// through the same cursor.
package accounts

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/store"
)

// Pool is the per-site account pool.
type Pool struct {
	st   store.Store
	cost int
}

// Option configures a Pool.
type Option func(*Pool)

// WithBcryptCost overrides the secret hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Pool) { p.cost = cost }
}

// New creates a Pool backed by st.
func New(st store.Store, opts ...Option) *Pool {
	p := &Pool{st: st, cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Acquire returns the next account for site. The cursor advance is a single
// atomic store operation, so concurrent callers never share an index while
// the pool size is at least the number of callers.
func (p *Pool) Acquire(ctx context.Context, site string) (*model.Account, error) {
	pool, err := p.st.ListAccounts(ctx, site)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "accounts.acquire", err)
	}
	if len(pool) == 0 {
		return nil, model.Errorf(model.KindNoAccountsAvailable, "accounts.acquire", "no accounts for %s", site)
	}

	next, err := p.st.AdvanceCursor(ctx, site, len(pool))
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "accounts.acquire", err)
	}
	if next < 0 || next >= len(pool) {
		return nil, model.Errorf(model.KindStorage, "accounts.acquire", "cursor %d out of range for pool of %d", next, len(pool))
	}

	acct := pool[next]
	zap.L().Debug("accounts: acquired",
		zap.String("site", site),
		zap.Int("index", next),
		zap.Int("pool_size", len(pool)),
		zap.String("identity", acct.Identity),
	)
	return &acct, nil
}

// Register hashes secret and stores a new account with the given session.
func (p *Pool) Register(ctx context.Context, site, identity, secret string, state model.SessionState) (*model.Account, error) {
	site = strings.TrimSpace(site)
	identity = strings.TrimSpace(identity)
	if site == "" || identity == "" || secret == "" {
		return nil, model.Errorf(model.KindValidation, "accounts.register", "site, identity and secret are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	if err != nil {
		return nil, model.Wrap(model.KindValidation, "accounts.register", eris.Wrap(err, "accounts: hash secret"))
	}

	acct, err := p.st.CreateAccount(ctx, model.Account{
		Site:         site,
		Identity:     identity,
		SecretHash:   string(hash),
		SessionState: state,
	})
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "accounts.register", err)
	}

	zap.L().Info("accounts: registered",
		zap.String("site", site),
		zap.String("identity", identity),
		zap.Bool("has_session", !state.Empty()),
	)
	return acct, nil
}

// Refresh replaces the stored session of an existing account after
// verifying secret against its hash.
func (p *Pool) Refresh(ctx context.Context, acct *model.Account, secret string, state model.SessionState) error {
	if err := VerifySecret(acct, secret); err != nil {
		return err
	}
	if err := p.st.UpdateSessionState(ctx, acct.ID, state); err != nil {
		return model.Wrap(model.KindStorage, "accounts.refresh", err)
	}
	acct.SessionState = state
	zap.L().Info("accounts: session refreshed",
		zap.String("site", acct.Site),
		zap.String("identity", acct.Identity),
	)
	return nil
}

// Find returns the account for site and identity, or nil.
func (p *Pool) Find(ctx context.Context, site, identity string) (*model.Account, error) {
	acct, err := p.st.FindAccount(ctx, site, identity)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "accounts.find", err)
	}
	return acct, nil
}

// List returns the pool for site in rotation order. An empty site lists all.
func (p *Pool) List(ctx context.Context, site string) ([]model.Account, error) {
	accts, err := p.st.ListAccounts(ctx, site)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "accounts.list", err)
	}
	return accts, nil
}

// Cursor returns the last index dispensed for site, -1 before the first.
func (p *Pool) Cursor(ctx context.Context, site string) (int, error) {
	v, err := p.st.GetCursor(ctx, site)
	if err != nil {
		return 0, model.Wrap(model.KindStorage, "accounts.cursor", err)
	}
	return v, nil
}

// VerifySecret checks secret against the account's stored hash.
func VerifySecret(acct *model.Account, secret string) error {
	if acct == nil {
		return model.Errorf(model.KindValidation, "accounts.verify", "account is nil")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.SecretHash), []byte(secret)); err != nil {
		return model.Wrap(model.KindUnauthenticated, "accounts.verify", eris.Wrapf(err, "accounts: secret mismatch for %s", acct.Identity))
	}
	return nil
}
