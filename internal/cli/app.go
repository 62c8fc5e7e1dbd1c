// Package cli wires the auth SDK into the sfdauth demo command. It is
// the reference consumer of pkg/authsdk: anything rendering session
// state (here, plain stdout) sits outside the SDK and only reacts to
// its signals.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/authsdk"
	"github.com/ricardoahumada/sfd-auth-client/pkg/jwtx"
	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"
	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring/sqlite"
	"github.com/ricardoahumada/sfd-auth-client/pkg/slogx"

	"github.com/pquerna/otp/totp"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// App holds the wired-up SDK for one command invocation.
type App struct {
	cfg    Config
	logger *slog.Logger
	ring   keyring.Store
	client *authsdk.Client
}

// New opens the persisted client state and constructs the SDK client
// over it. A session persisted by a previous invocation is restored.
func New(cfg Config) (*App, error) {
	logger := slogx.New(slogx.Config{
		Service: "sfdauth",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	var opts []sqlite.Option
	if cfg.StatePassphrase != "" {
		opts = append(opts, sqlite.WithSealing([]byte(cfg.StatePassphrase)))
	}

	ring, err := sqlite.NewStore("file:"+cfg.StateFile+"?_busy_timeout=5000", opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open client state: %w", err)
	}

	client, err := authsdk.NewClient(context.Background(), cfg.BaseURL, cfg.ClientID, ring,
		authsdk.WithLogger(logger),
		authsdk.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		authsdk.WithClientRefreshBuffer(cfg.RefreshBuffer),
	)
	if err != nil {
		_ = ring.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		ring:   ring,
		client: client,
	}, nil
}

// Close releases the SDK and the state file.
func (a *App) Close() {
	a.client.Close()
	if err := a.ring.Close(); err != nil {
		a.logger.Warn("failed to close client state", "error", err)
	}
}

// Run dispatches one subcommand.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.usage()
	}

	switch args[0] {
	case "login":
		return a.login(ctx, args[1:])
	case "status":
		return a.status()
	case "refresh":
		return a.refresh(ctx)
	case "userinfo":
		return a.userinfo(ctx)
	case "authorize":
		return a.authorize(ctx)
	case "exchange":
		return a.exchange(ctx, args[1:])
	case "logout":
		return a.logout(ctx)
	case "logout-all":
		return a.logoutAll(ctx)
	case "totp":
		return a.totp(args[1:])
	default:
		return a.usage()
	}
}

func (a *App) usage() error {
	fmt.Println(`usage: sfdauth <command>

commands:
  login <email> <password>   authenticate and persist the session
  status                     show the current session and token health
  refresh                    force a token refresh now
  userinfo                   fetch the authenticated profile
  authorize                  start a PKCE authorization code flow
  exchange <code> <state>    complete the flow with the callback values
  logout                     revoke this session and clear local state
  logout-all                 revoke every session and clear local state
  totp <secret>              print the current TOTP code for a secret`)
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: sfdauth login <email> <password>")
	}

	user, err := a.client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if user != nil {
		fmt.Printf("logged in as %s (%s)\n", user.Email, user.Role)
	} else {
		fmt.Println("logged in; run `sfdauth userinfo` to load the profile")
	}
	return nil
}

func (a *App) status() error {
	store := a.client.Store()
	if !store.IsAuthenticated() {
		fmt.Println("not authenticated")
		return nil
	}

	user := store.User()
	fmt.Printf("user:    %s (%s)\n", user.Email, user.Role)
	if session := store.Session(); session != nil {
		fmt.Printf("session: %s (since %s)\n", session.ID, session.IssuedAt.Format(time.RFC3339))
		if !session.LastRefreshedAt.IsZero() {
			fmt.Printf("         last refreshed %s\n", session.LastRefreshedAt.Format(time.RFC3339))
		}
	}

	info, ok := store.ExpirationInfo()
	if !ok {
		fmt.Println("token:   expiry unknown")
		return nil
	}
	if info.IsExpired {
		fmt.Printf("token:   EXPIRED at %s\n", info.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Printf("token:   expires in %s (at %s)\n",
			info.TimeUntilExpiry.Round(time.Second),
			info.ExpiresAt.Format(time.RFC3339),
		)
	}

	// Unverified introspection for the operator's benefit only.
	validator := &jwtx.Validator{}
	result := validator.Validate(store.AccessToken())
	for _, warning := range result.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	for _, problem := range result.Errors {
		fmt.Printf("problem: %s\n", problem)
	}

	return nil
}

func (a *App) refresh(ctx context.Context) error {
	snap, err := a.client.Coordinator().ForceRefresh(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("refreshed; new token expires at %s\n", snap.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (a *App) userinfo(ctx context.Context) error {
	user, err := a.client.UserInfo(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("id:     %d\nemail:  %s\nname:   %s\nrole:   %s\nscopes: %s\n",
		user.ID, user.Email, user.Name, user.Role, strings.Join(user.Scopes, " "))
	return nil
}

func (a *App) authorize(ctx context.Context) error {
	flow, err := a.client.BeginAuthorization(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("open this URL to authorize:\n  %s\n\n", flow.AuthorizationURL)
	fmt.Printf("then run: sfdauth exchange <code> %s\n", flow.State)
	return nil
}

func (a *App) exchange(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: sfdauth exchange <code> <state>")
	}

	user, err := a.client.ExchangeCode(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if user != nil {
		fmt.Printf("authorized as %s (%s)\n", user.Email, user.Role)
	} else {
		fmt.Println("authorized; run `sfdauth userinfo` to load the profile")
	}
	return nil
}

func (a *App) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func (a *App) logoutAll(ctx context.Context) error {
	if err := a.client.LogoutAll(ctx); err != nil {
		return err
	}
	fmt.Println("logged out everywhere")
	return nil
}

// totp prints the current one-time code for an authenticator secret,
// for demo accounts with MFA enabled.
func (a *App) totp(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sfdauth totp <secret>")
	}

	code, err := totp.GenerateCode(strings.ToUpper(args[0]), time.Now())
	if err != nil {
		return fmt.Errorf("failed to generate TOTP code: %w", err)
	}

	fmt.Println(code)
	return nil
}
