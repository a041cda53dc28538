// Package auth obtains OAuth 2.0 clients for Google Calendar and keeps their
// tokens on disk.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/beekhof/busysync/internal/logging"
)

// authorizationTimeout bounds how long the interactive flow waits for the
// browser redirect.
const authorizationTimeout = 5 * time.Minute

// TokenStore is an interface for saving and loading OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// LoadOAuthConfig reads a Google client secrets file (either the "installed"
// or the "web" flavour) and returns a config requesting read/write access to
// calendar events.
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return cfg, nil
}

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	source     oauth2.TokenSource
	tokenStore TokenStore

	mu        sync.Mutex
	lastToken *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// Returns the redirect URL, a channel for the authorization code, and a channel for errors.
// Uses port 8080 by default, or a random port if 8080 is unavailable.
func startLocalServer(state string) (string, <-chan string, <-chan error, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 2)

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	var once sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("error") != "":
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", query.Get("error"))
			errorChan <- fmt.Errorf("authorization error: %s", query.Get("error"))
		case query.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case query.Get("code") == "":
			fmt.Fprintf(w, "<html><body><h1>No authorization code received</h1></body></html>")
			errorChan <- errors.New("no authorization code received")
		default:
			fmt.Fprintf(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			codeChan <- query.Get("code")
		}
		once.Do(func() {
			go func() {
				time.Sleep(1 * time.Second)
				server.Shutdown(context.Background())
			}()
		})
	})
	server.Handler = mux

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errorChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	return redirectURL, codeChan, errorChan, nil
}

// GetAuthenticatedClient returns an authenticated HTTP client using OAuth 2.0.
// If no token exists, it will guide the user through the interactive OAuth
// flow, receiving the redirect on a local HTTP server.
func GetAuthenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore) (*http.Client, error) {
	log := logging.FromContext(ctx)

	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if token == nil {
		state := uuid.NewString()
		redirectURL, codeChan, errorChan, err := startLocalServer(state)
		if err != nil {
			return nil, err
		}

		cfg := *oauthConfig
		cfg.RedirectURL = redirectURL
		oauthConfig = &cfg

		authURL := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

		log.Info().Str("redirect_url", redirectURL).Msg("Started local OAuth callback server")
		if redirectURL != "http://127.0.0.1:8080" {
			log.Warn().Str("redirect_url", redirectURL).
				Msg("Port 8080 was unavailable; add this redirect URI to the OAuth client in Google Cloud Console")
		}
		fmt.Fprintln(os.Stderr, "\nPlease visit the following URL to authorize the application:")
		fmt.Fprintln(os.Stderr, authURL)
		fmt.Fprintln(os.Stderr, "\nWaiting for authorization...")

		var code string
		select {
		case code = <-codeChan:
		case err := <-errorChan:
			return nil, fmt.Errorf("failed to receive authorization code: %w", err)
		case <-time.After(authorizationTimeout):
			return nil, fmt.Errorf("authorization timeout: no response received within %s", authorizationTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		token, err = exchange(ctx, oauthConfig, tokenStore, code)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Authorization successful")
	}

	return newClient(ctx, oauthConfig, tokenStore, token), nil
}

// GetAuthenticatedClientWithReader is like GetAuthenticatedClient but reads
// the authorization code from reader instead of running a callback server.
// It suits headless machines where the redirect cannot reach this process.
func GetAuthenticatedClientWithReader(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, reader io.Reader) (*http.Client, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if token == nil {
		authURL := oauthConfig.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOffline)

		fmt.Fprintln(os.Stderr, "Please visit the following URL to authorize the application:")
		fmt.Fprintln(os.Stderr, authURL)
		fmt.Fprint(os.Stderr, "Enter the authorization code: ")

		var code string
		if _, err := fmt.Fscanln(reader, &code); err != nil {
			return nil, fmt.Errorf("failed to read authorization code: %w", err)
		}

		token, err = exchange(ctx, oauthConfig, tokenStore, code)
		if err != nil {
			return nil, err
		}
	}

	return newClient(ctx, oauthConfig, tokenStore, token), nil
}

func exchange(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("no authorization code received")
	}
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := tokenStore.SaveToken(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

// newClient returns an HTTP client whose refreshed tokens are written back to
// tokenStore.
func newClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, token *oauth2.Token) *http.Client {
	autoSaveSource := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		tokenStore: tokenStore,
		lastToken:  token,
	}
	return oauth2.NewClient(ctx, autoSaveSource)
}
