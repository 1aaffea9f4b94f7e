package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"
)

func whoamiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/whoami" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-API-Key") != "rf_key_valid" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid API key"}}`))
			return
		}
		w.Write([]byte(`{"operator":"keeper","authenticated":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestStdinFdCrossplatform checks that the stdin descriptor converts to the
// int expected by golang.org/x/term on every platform.
func TestStdinFdCrossplatform(t *testing.T) {
	stdinFd := int(os.Stdin.Fd())
	assert.GreaterOrEqual(t, stdinFd, 0)
	t.Logf("stdin fd=%d, isTerminal=%v", stdinFd, term.IsTerminal(stdinFd))
}

func TestAuthLogin(t *testing.T) {
	isolate(t)
	srv := whoamiServer(t)

	tests := []struct {
		name    string
		key     string
		stdin   string
		wantErr string
	}{
		{name: "valid key from flag", key: "rf_key_valid"},
		{name: "valid key from stdin", stdin: "rf_key_valid\n"},
		{name: "stdin without newline", stdin: "rf_key_valid"},
		{name: "invalid key", key: "rf_key_wrong", wantErr: "invalid API key"},
		{name: "empty key", stdin: "\n", wantErr: "cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runAuthLogin(context.Background(), &out, strings.NewReader(tt.stdin), srv.URL, tt.key)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), "Authenticated to "+srv.URL)
			assert.Equal(t, "rf_key_valid", getCredential(srv.URL))

			creds, err := loadCredentials()
			require.NoError(t, err)
			assert.Equal(t, "keeper", creds.Servers[srv.URL].Name)
		})
	}
}

func TestAuthLoginUnreachableServer(t *testing.T) {
	isolate(t)
	srv := whoamiServer(t)
	url := srv.URL
	srv.Close()

	err := runAuthLogin(context.Background(), &bytes.Buffer{}, strings.NewReader(""), url, "rf_key_valid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errInvalidAPIKey)
	assert.Equal(t, "", getCredential(url))
}

func TestAuthLogout(t *testing.T) {
	isolate(t)
	require.NoError(t, saveCredential("http://a:8080", ServerCredential{APIKey: "rf_key_a"}))
	require.NoError(t, saveCredential("http://b:8080", ServerCredential{APIKey: "rf_key_b"}))

	var out bytes.Buffer
	require.NoError(t, runAuthLogout(&out, "http://a:8080", false))
	assert.Contains(t, out.String(), "Logged out from http://a:8080")
	assert.Equal(t, "", getCredential("http://a:8080"))
	assert.Equal(t, "rf_key_b", getCredential("http://b:8080"))

	out.Reset()
	require.NoError(t, runAuthLogout(&out, "http://a:8080", false))
	assert.Contains(t, out.String(), "No credentials found")

	require.NoError(t, runAuthLogout(&out, "", true))
	_, err := os.Stat(credentialsFilePath())
	assert.True(t, os.IsNotExist(err))

	// nothing stored at all
	out.Reset()
	require.NoError(t, runAuthLogout(&out, "http://a:8080", false))
	assert.Contains(t, out.String(), "No credentials found")
}

func TestAuthStatus(t *testing.T) {
	isolate(t)

	var out bytes.Buffer
	require.NoError(t, runAuthStatus(&out))
	assert.Contains(t, out.String(), "Not authenticated")

	require.NoError(t, saveCredential("http://b:8080", ServerCredential{APIKey: "rf_key_bbbbbbbbbbbb"}))
	require.NoError(t, saveCredential("http://a:8080", ServerCredential{APIKey: "rf_key_aaaaaaaaaaaa", Name: "ops"}))

	out.Reset()
	require.NoError(t, runAuthStatus(&out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "  - http://a:8080 (ops, key: rf_key_aaa...aaaa)", lines[1])
	assert.Equal(t, "  - http://b:8080 (key: rf_key_bbb...bbbb)", lines[2])
}

func TestCredentialPermissions(t *testing.T) {
	isolate(t)
	require.NoError(t, saveCredential("http://a:8080", ServerCredential{APIKey: "rf_key_a"}))

	info, err := os.Stat(credentialsFilePath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(credentialsDir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestReadSecretFromNonTerminal(t *testing.T) {
	key, err := readSecret(strings.NewReader("  rf_key_padded  \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "rf_key_padded", key)
}

func TestAuthCommandStructure(t *testing.T) {
	cmd := createAuthCmd()
	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"login", "logout", "status"}, names)

	login, _, err := cmd.Find([]string{"login"})
	require.NoError(t, err)
	assert.NotNil(t, login.Flags().Lookup("api-key"))
	assert.NotNil(t, login.Flags().Lookup("server"))
}
