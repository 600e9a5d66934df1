package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/accounts"
	"github.com/sells-group/qa-scraper/internal/browser"
	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/scrape"
)

// secretEnv is read when --secret is not given, keeping passwords out of
// shell history.
const secretEnv = "QASCRAPE_ACCOUNT_SECRET"

var (
	acctAdapter     string
	acctIdentity    string
	acctSecret      string
	acctSessionFile string
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the per-site account pools",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an account with an exported browser session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := adapterFor(acctAdapter)
		if err != nil {
			return err
		}
		state, err := readSessionFile(acctSessionFile)
		if err != nil {
			return err
		}

		pool, closeFn, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		acct, err := upsertAccount(ctx, pool, a.Site, acctIdentity, resolveSecret(acctSecret), state)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s ready for %s (%d cookies)\n", acct.Identity, a.Name, len(acct.SessionState.Cookies))
		return nil
	},
}

var accountsLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser and store the captured session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := adapterFor(acctAdapter)
		if err != nil {
			return err
		}
		secret := resolveSecret(acctSecret)
		if secret == "" {
			return eris.Errorf("a password is required (--secret or %s)", secretEnv)
		}

		pool, closeFn, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		mgr := browser.NewManager(cfg.Browser)
		defer mgr.Close() //nolint:errcheck

		state, err := mgr.Login(ctx, loginForm(a), acctIdentity, secret)
		if err != nil {
			return eris.Wrapf(err, "login to %s as %s", a.Name, acctIdentity)
		}

		acct, err := upsertAccount(ctx, pool, a.Site, acctIdentity, secret, state)
		if err != nil {
			return err
		}
		zap.L().Info("login captured",
			zap.String("adapter", a.Name),
			zap.String("identity", acct.Identity),
			zap.Int("cookies", len(state.Cookies)),
			zap.Bool("csrf_token", state.CSRFToken != ""),
		)
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts in rotation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		site := ""
		if acctAdapter != "" {
			a, err := adapterFor(acctAdapter)
			if err != nil {
				return err
			}
			site = a.Site
		}

		pool, closeFn, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		accts, err := pool.List(ctx, site)
		if err != nil {
			return err
		}
		if len(accts) == 0 {
			zap.L().Info("no accounts found, run 'accounts login' or 'accounts add' first")
			return nil
		}
		formatAccounts(cmd.OutOrStdout(), accts)
		return nil
	},
}

var accountsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool size and rotation cursor per adapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		adapters, err := scrape.LoadAdapters(cfg.Scrape.AdaptersFile)
		if err != nil {
			return eris.Wrap(err, "load adapters")
		}

		pool, closeFn, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		var rows []poolStatus
		for _, name := range scrape.Names(adapters) {
			a := adapters[name]
			accts, err := pool.List(ctx, a.Site)
			if err != nil {
				return err
			}
			cursor, err := pool.Cursor(ctx, a.Site)
			if err != nil {
				return err
			}
			rows = append(rows, newPoolStatus(a, accts, cursor))
		}
		formatPoolStatus(cmd.OutOrStdout(), rows)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{accountsAddCmd, accountsLoginCmd} {
		c.Flags().StringVar(&acctAdapter, "adapter", "", "adapter name, e.g. stackoverflow (required)")
		c.Flags().StringVar(&acctIdentity, "identity", "", "account email or username (required)")
		c.Flags().StringVar(&acctSecret, "secret", "", "account password (default $"+secretEnv+")")
		_ = c.MarkFlagRequired("adapter")
		_ = c.MarkFlagRequired("identity")
	}
	accountsAddCmd.Flags().StringVar(&acctSessionFile, "session-file", "", "JSON file with exported cookies (required)")
	_ = accountsAddCmd.MarkFlagRequired("session-file")
	accountsListCmd.Flags().StringVar(&acctAdapter, "adapter", "", "only list accounts for this adapter")

	accountsCmd.AddCommand(accountsAddCmd, accountsLoginCmd, accountsListCmd, accountsStatusCmd)
	rootCmd.AddCommand(accountsCmd)
}

func openPool(ctx context.Context) (*accounts.Pool, func(), error) {
	if err := cfg.Validate("accounts"); err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return accounts.New(st), func() { _ = st.Close() }, nil
}

func adapterFor(name string) (scrape.Adapter, error) {
	path := ""
	if cfg != nil {
		path = cfg.Scrape.AdaptersFile
	}
	adapters, err := scrape.LoadAdapters(path)
	if err != nil {
		return scrape.Adapter{}, eris.Wrap(err, "load adapters")
	}
	a, ok := adapters[name]
	if !ok {
		return scrape.Adapter{}, eris.Errorf("unknown adapter %q (have %v)", name, scrape.Names(adapters))
	}
	return a, nil
}

func loginForm(a scrape.Adapter) browser.LoginForm {
	return browser.LoginForm{
		URL:           a.Login.URL,
		IdentityInput: a.Login.IdentityInput,
		PasswordInput: a.Login.PasswordInput,
		Submit:        a.Login.Submit,
		CSRFInput:     a.Login.CSRFInput,
	}
}

func resolveSecret(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(secretEnv)
}

// readSessionFile accepts either a SessionState object or a bare cookie
// array as exported by browser extensions.
func readSessionFile(path string) (model.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SessionState{}, eris.Wrap(err, "read session file")
	}

	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		var cookies []model.Cookie
		if arrErr := json.Unmarshal(data, &cookies); arrErr != nil {
			return model.SessionState{}, eris.Wrap(err, "parse session file")
		}
		state.Cookies = cookies
	}
	if state.Empty() {
		return model.SessionState{}, eris.Errorf("session file %s has no cookies", path)
	}
	return state, nil
}

// upsertAccount refreshes an existing account or registers a new one.
func upsertAccount(ctx context.Context, pool *accounts.Pool, site, identity, secret string, state model.SessionState) (*model.Account, error) {
	existing, err := pool.Find(ctx, site, identity)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return pool.Register(ctx, site, identity, secret, state)
	}
	if err := pool.Refresh(ctx, existing, secret, state); err != nil {
		return nil, err
	}
	return existing, nil
}

func formatAccounts(out io.Writer, accts []model.Account) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSITE\tIDENTITY\tCOOKIES\tUPDATED")
	_, _ = fmt.Fprintln(w, "-\t----\t--------\t-------\t-------")
	for i, a := range accts {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			i,
			a.Site,
			a.Identity,
			len(a.SessionState.Cookies),
			a.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

type poolStatus struct {
	Adapter  string
	Site     string
	Accounts int
	Cursor   int
	Next     string
}

func newPoolStatus(a scrape.Adapter, accts []model.Account, cursor int) poolStatus {
	ps := poolStatus{Adapter: a.Name, Site: a.Site, Accounts: len(accts), Cursor: cursor, Next: "-"}
	if len(accts) > 0 {
		ps.Next = accts[(cursor+1)%len(accts)].Identity
	}
	return ps
}

func formatPoolStatus(out io.Writer, rows []poolStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ADAPTER\tSITE\tACCOUNTS\tCURSOR\tNEXT")
	_, _ = fmt.Fprintln(w, "-------\t----\t--------\t------\t----")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Adapter, r.Site, r.Accounts, r.Cursor, r.Next)
	}
	_ = w.Flush()
}
