package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// mockTokenStore is a mock implementation of TokenStore for testing.
type mockTokenStore struct {
	token       *oauth2.Token
	savedTokens []*oauth2.Token
	saveErr     error
}

func (m *mockTokenStore) SaveToken(token *oauth2.Token) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.savedTokens = append(m.savedTokens, token)
	m.token = token
	return nil
}

func (m *mockTokenStore) LoadToken() (*oauth2.Token, error) {
	return m.token, nil
}

// sequenceSource hands out the given tokens in order, repeating the last.
type sequenceSource struct {
	tokens []*oauth2.Token
	i      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.i]
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: tokenURL,
		},
	}
}

func TestGetAuthenticatedClient_TokenExists(t *testing.T) {
	store := &mockTokenStore{
		token: &oauth2.Token{
			AccessToken:  "test-access-token",
			RefreshToken: "test-refresh-token",
			Expiry:       time.Now().Add(1 * time.Hour),
			TokenType:    "Bearer",
		},
	}

	client, err := GetAuthenticatedClient(context.Background(), testOAuthConfig("https://oauth2.googleapis.com/token"), store)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Empty(t, store.savedTokens, "a valid token is not rewritten")
}

func TestGetAuthenticatedClientWithReader_ExchangesCode(t *testing.T) {
	var gotCode string
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotCode = r.Form.Get("code")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"refresh","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	store := &mockTokenStore{}
	client, err := GetAuthenticatedClientWithReader(context.Background(), testOAuthConfig(tokenServer.URL), store, strings.NewReader("auth-code\n"))
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, "auth-code", gotCode)
	require.Len(t, store.savedTokens, 1)
	assert.Equal(t, "fresh", store.savedTokens[0].AccessToken)
	assert.Equal(t, "refresh", store.savedTokens[0].RefreshToken)
}

func TestGetAuthenticatedClientWithReader_NoCode(t *testing.T) {
	_, err := GetAuthenticatedClientWithReader(context.Background(), testOAuthConfig("http://127.0.0.1:0"), &mockTokenStore{}, strings.NewReader(""))
	assert.ErrorContains(t, err, "failed to read authorization code")
}

func TestAutoSaveTokenSource(t *testing.T) {
	first := &oauth2.Token{AccessToken: "one"}
	second := &oauth2.Token{AccessToken: "two"}
	store := &mockTokenStore{}
	src := &autoSaveTokenSource{
		source:     &sequenceSource{tokens: []*oauth2.Token{first, first, second}},
		tokenStore: store,
		lastToken:  first,
	}

	for i := 0; i < 3; i++ {
		_, err := src.Token()
		require.NoError(t, err)
	}
	require.Len(t, store.savedTokens, 1, "only the refreshed token is saved")
	assert.Equal(t, "two", store.savedTokens[0].AccessToken)

	store.saveErr = errors.New("disk full")
	src.source = &sequenceSource{tokens: []*oauth2.Token{{AccessToken: "three"}}}
	_, err := src.Token()
	assert.ErrorContains(t, err, "failed to save refreshed token")
}

func TestStartLocalServer(t *testing.T) {
	redirectURL, codeChan, errorChan, err := startLocalServer("expected-state")
	require.NoError(t, err)

	resp, err := http.Get(redirectURL + "/?state=wrong&code=stolen")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(redirectURL + "/?state=expected-state&code=the-code")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case code := <-codeChan:
		assert.Equal(t, "the-code", code)
	case err := <-errorChan:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no code received")
	}
}

func TestLoadOAuthConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	creds := `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",` +
		`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",` +
		`"redirect_uris":["http://localhost"]}}`
	require.NoError(t, os.WriteFile(path, []byte(creds), 0600))

	cfg, err := LoadOAuthConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "id.apps.googleusercontent.com", cfg.ClientID)
	assert.Equal(t, "secret", cfg.ClientSecret)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, cfg.Scopes)

	_, err = LoadOAuthConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read credentials file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"other":{}}`), 0600))
	_, err = LoadOAuthConfig(bad)
	assert.ErrorContains(t, err, "failed to parse credentials file")
}
