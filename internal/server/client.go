// Package server implements the client side of the patch server's
// token-and-query HTTP API. A bare GET on the base URL issues a token;
// every other call is GET <base>?action=<op>&token=<t>.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/terraonline/launcher/internal/patch"
)

var (
	// AuthError wraps token issuance and refresh failures. These are
	// fatal to the operation in progress; the core never retries them.
	AuthError = errs.Class("auth")
	// ManifestError wraps list/checksum/repair-list fetch failures.
	// Callers receive empty results instead of these, but the class is
	// kept for logging and tests.
	ManifestError = errs.Class("manifest")
)

// tokenRefreshBuffer is how long before expiry a token is renewed.
const tokenRefreshBuffer = 5 * time.Minute

// Token is an opaque server-issued credential with its expiry time.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Fresh reports whether the token is usable without renewal, keeping a
// safety margin before expiry.
func (t Token) Fresh(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-tokenRefreshBuffer))
}

// Client talks to the patch server. It owns the auth token exclusively
// and renews it before any other request when it is near expiry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	token Token
}

// NewClient creates a patch server client. A nil httpClient gets a
// default with a 30-second timeout.
func NewClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log,
		now:        time.Now,
	}
}

type tokenResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

type listResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Files   []patch.ServerFile `json:"files"`
}

type checksumsResponse struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Checksums []patch.Checksum `json:"checksums"`
}

type repairResponse struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	RepairFiles []patch.ServerFile `json:"repair_files"`
}

// GetToken requests a new token from the server. On failure the cached
// token is left untouched; no partial token is ever retained.
func (c *Client) GetToken(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return Token{}, AuthError.Wrap(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, AuthError.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, AuthError.New("token request returned HTTP %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, AuthError.New("failed to parse token response: %v", err)
	}
	if !body.Success {
		msg := body.Message
		if msg == "" {
			msg = "server returned error"
		}
		return Token{}, AuthError.New("%s", msg)
	}

	tok := Token{
		Value:     body.Token,
		ExpiresAt: c.now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	c.log.Debug("token obtained", zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// EnsureFreshToken returns the cached token, renewing it first when it
// is absent or within the refresh buffer of expiry. Every other network
// call goes through this check.
func (c *Client) EnsureFreshToken(ctx context.Context) (Token, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok.Fresh(c.now()) {
		return tok, nil
	}
	return c.GetToken(ctx)
}

func (c *Client) actionURL(action string, tok Token, extra url.Values) string {
	q := url.Values{}
	q.Set("action", action)
	q.Set("token", tok.Value)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.baseURL + "?" + q.Encode()
}

// getAction performs one authenticated query call and decodes the JSON
// body into out. It returns a ManifestError on transport, status, or
// decode failure; the business-level success flag is left to the caller.
func (c *Client) getAction(ctx context.Context, action string, out any) error {
	tok, err := c.EnsureFreshToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.actionURL(action, tok, nil), nil)
	if err != nil {
		return ManifestError.Wrap(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ManifestError.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ManifestError.New("%s request returned HTTP %d", action, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ManifestError.New("failed to parse %s response: %v", action, err)
	}
	return nil
}

// ListFiles returns the server's file manifest. On any failure it logs
// and returns an empty sequence; callers must treat an empty manifest as
// unknown rather than "nothing to update" unless corroborated by other
// signals such as a prior snapshot.
func (c *Client) ListFiles(ctx context.Context) []patch.ServerFile {
	var body listResponse
	if err := c.getAction(ctx, "list", &body); err != nil {
		c.log.Warn("file list unavailable", zap.Error(err))
		return nil
	}
	if !body.Success {
		c.log.Warn("server refused file list", zap.String("message", body.Message))
		return nil
	}
	c.log.Debug("file list retrieved", zap.Int("count", len(body.Files)))
	return body.Files
}

// GetChecksums returns server-side MD5 checksums. Same empty-on-failure
// contract as ListFiles; checksums are an enhancement, never required
// for transfer correctness.
func (c *Client) GetChecksums(ctx context.Context) []patch.Checksum {
	var body checksumsResponse
	if err := c.getAction(ctx, "checksums", &body); err != nil {
		c.log.Warn("checksums unavailable", zap.Error(err))
		return nil
	}
	if !body.Success {
		c.log.Warn("server refused checksums", zap.String("message", body.Message))
		return nil
	}
	return body.Checksums
}

// GetRepairCandidates returns the server-curated repair file subset. An
// empty sequence is a valid terminal state meaning nothing needs repair.
func (c *Client) GetRepairCandidates(ctx context.Context) []patch.ServerFile {
	var body repairResponse
	if err := c.getAction(ctx, "repair", &body); err != nil {
		c.log.Warn("repair candidates unavailable", zap.Error(err))
		return nil
	}
	if !body.Success {
		c.log.Warn("server refused repair candidates", zap.String("message", body.Message))
		return nil
	}
	return body.RepairFiles
}

// DownloadURL builds the download URL for one manifest file using the
// cached token. The token is not re-checked here: a batch refreshes once
// up front, and a mid-batch 401 surfaces as a file-level failure.
func (c *Client) DownloadURL(name string) (string, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok.Value == "" {
		return "", AuthError.New("no token held, call EnsureFreshToken first")
	}
	return c.actionURL("download", tok, url.Values{"file": {name}}), nil
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) String() string {
	return fmt.Sprintf("patch server %s", c.baseURL)
}
