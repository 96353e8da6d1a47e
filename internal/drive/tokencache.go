package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// Scopes requested by the consent flow. drive.file limits access to files
// this application created.
var Scopes = []string{drive.DriveFileScope}

// LoadOAuthConfig reads an OAuth client secrets file downloaded from the
// Google Cloud console.
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", credentialsPath, err)
	}
	conf, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", credentialsPath, err)
	}
	return conf, nil
}

// TokenCache is an oauth2.TokenSource backed by a JSON token file. The file
// is read on first use and rewritten whenever a refresh yields a new token.
// Concurrent callers share one refresh.
type TokenCache struct {
	ctx    context.Context
	path   string
	conf   *oauth2.Config
	logger *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewTokenCache builds a cache for the token file at path. ctx is used for
// refresh requests and may carry an oauth2.HTTPClient.
func NewTokenCache(ctx context.Context, path string, conf *oauth2.Config, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCache{ctx: ctx, path: path, conf: conf, logger: logger}
}

// Token implements oauth2.TokenSource.
func (c *TokenCache) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tok == nil {
		tok, err := readToken(c.path)
		if err != nil {
			return nil, err
		}
		c.tok = tok
	}
	if c.tok.Valid() {
		return c.tok, nil
	}
	if c.tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired and has no refresh token", ErrNoToken)
	}

	fresh, err := c.conf.TokenSource(c.ctx, c.tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = c.tok.RefreshToken
	}
	if fresh.AccessToken != c.tok.AccessToken {
		if err := writeToken(c.path, fresh); err != nil {
			c.logger.Warn("token refreshed but not persisted", "path", c.path, "err", err)
		} else {
			c.logger.Debug("drive token refreshed", "path", c.path, "expiry", fresh.Expiry)
		}
	}
	c.tok = fresh
	return c.tok, nil
}

// Invalidate drops the in-memory token. The next Token call re-reads the
// file and refreshes if needed.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

// Store persists tok and makes it current.
func (c *TokenCache) Store(tok *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeToken(c.path, tok); err != nil {
		return err
	}
	c.tok = tok
	return nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNoToken, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read token %s: %w", path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return &tok, nil
}

// writeToken replaces the file atomically so a concurrent reader in another
// process never sees a partial token.
func writeToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace token: %w", err)
	}
	return nil
}
