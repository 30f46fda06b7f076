// Package google connects the user's Google account and adapts Calendar and
// Gmail to the companion's capability ports.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

const (
	DefaultRedirectPort = 3847
	CallbackPath        = "/oauth2callback"
	ConsentTimeout      = 5 * time.Minute
)

// Scopes are requested on connect.
var Scopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailComposeScope,
}

// ErrConnectInProgress is returned when a consent flow is already running.
var ErrConnectInProgress = errors.New("google sign-in already in progress")

const successPage = `<!doctype html>
<html><head><title>Connected</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 20vh">
<h1>Your Google account is connected.</h1>
<p>You can close this window and return to the app.</p>
</body></html>`

// Auth runs the OAuth loopback flow and hands out authorized HTTP clients.
// It implements capability.Account.
type Auth struct {
	clientID     string
	clientSecret string
	port         int
	store        *TokenStore
	openBrowser  func(url string) error
	endpoint     oauth2.Endpoint
	now          func() time.Time
	logger       *slog.Logger

	mu         sync.Mutex
	connecting bool
}

// AuthOption configures Auth.
type AuthOption func(*Auth)

// WithEndpoint overrides the Google OAuth endpoint, for tests.
func WithEndpoint(e oauth2.Endpoint) AuthOption {
	return func(a *Auth) { a.endpoint = e }
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Auth) { a.now = now }
}

func NewAuth(clientID, clientSecret string, port int, store *TokenStore, openBrowser func(string) error, opts ...AuthOption) *Auth {
	if port <= 0 {
		port = DefaultRedirectPort
	}
	a := &Auth{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		port:         port,
		store:        store,
		openBrowser:  openBrowser,
		endpoint:     googleoauth.Endpoint,
		now:          time.Now,
		logger:       observability.Component("google"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Auth) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		RedirectURL:  fmt.Sprintf("http://localhost:%d%s", a.port, CallbackPath),
		Scopes:       Scopes,
		Endpoint:     a.endpoint,
	}
}

// IsAuthenticated reports whether a usable token is on disk. It makes no
// network call.
func (a *Auth) IsAuthenticated() bool {
	tok, err := a.store.Load()
	if err != nil {
		return false
	}
	if tok.RefreshToken != "" {
		return true
	}
	return tok.AccessToken != "" && (tok.Expiry.IsZero() || tok.Expiry.After(a.now()))
}

// HTTPClient returns a client that authorizes requests and saves refreshed
// tokens. It returns capability.ErrAuthRequired without a usable token.
func (a *Auth) HTTPClient(ctx context.Context) (*http.Client, error) {
	if !a.IsAuthenticated() {
		return nil, capability.ErrAuthRequired
	}
	tok, err := a.store.Load()
	if err != nil {
		return nil, capability.ErrAuthRequired
	}

	src := &persistingSource{
		base:   a.config().TokenSource(ctx, tok),
		store:  a.store,
		logger: a.logger,
		last:   tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// SignOut forgets the stored token.
func (a *Auth) SignOut() error {
	a.logger.Info("signing out of google account")
	return a.store.Remove()
}

// Connect opens the consent page in the browser and waits for the loopback
// redirect, ctx, or ConsentTimeout.
func (a *Auth) Connect(ctx context.Context) error {
	if a.clientID == "" || a.clientSecret == "" {
		var missing []string
		if a.clientID == "" {
			missing = append(missing, "GOOGLE_CLIENT_ID")
		}
		if a.clientSecret == "" {
			missing = append(missing, "GOOGLE_CLIENT_SECRET")
		}
		return &capability.ConfigurationError{Missing: missing}
	}

	a.mu.Lock()
	if a.connecting {
		a.mu.Unlock()
		return ErrConnectInProgress
	}
	a.connecting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.connecting = false
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, ConsentTimeout)
	defer cancel()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", a.port))
	if err != nil {
		return fmt.Errorf("listen for oauth callback: %w", err)
	}

	cfg := a.config()
	state := uuid.New().String()
	result := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authentication was cancelled", http.StatusBadRequest)
			deliver(result, fmt.Errorf("consent denied: %s", e))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			deliver(result, fmt.Errorf("no authorization code received"))
			return
		}

		tok, err := cfg.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
			deliver(result, fmt.Errorf("exchange code: %w", err))
			return
		}
		if err := a.store.Save(tok); err != nil {
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
			deliver(result, err)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, successPage)
		deliver(result, nil)
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	a.logger.Info("waiting for google consent", "redirect", cfg.RedirectURL)
	if a.openBrowser != nil {
		if err := a.openBrowser(authURL); err != nil {
			a.logger.Warn("could not open browser", "error", err, "url", authURL)
		}
	}

	select {
	case err := <-result:
		if err != nil {
			a.logger.Warn("google sign-in failed", "error", err)
			return err
		}
		a.logger.Info("google account connected")
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("google sign-in: %w", capability.ErrTimeout)
		}
		return ctx.Err()
	}
}

func deliver(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}
