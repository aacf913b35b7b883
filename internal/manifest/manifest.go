package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/caedis/launcher-updater/internal/pathfmt"
)

// DefaultTimeout bounds each manifest or hash-file request.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a manifest response is read.
const maxBodyBytes = 64 << 20

// FetchError wraps network, HTTP status and parse failures while fetching a
// remote manifest or hash file.
var FetchError = errs.Class("manifest fetch")

// Manifest is the remote description of one tracked directory on one platform.
type Manifest struct {
	BaseURL   string              `json:"base_url"`
	URLFormat string              `json:"url_format"`
	Files     map[string]FileInfo `json:"files"`
}

// FileInfo is the expected hash and size of one remote file.
type FileInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// TotalSize returns the sum of all file sizes in the manifest.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Client fetches manifests and hash files over HTTP.
type Client struct {
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Client whose requests time out after DefaultTimeout.
func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch resolves endpoint against vars, downloads it and parses the manifest.
// Any failure is returned as a FetchError; the caller decides whether to retry.
func (c *Client) Fetch(ctx context.Context, endpoint string, vars pathfmt.Vars) (*Manifest, error) {
	url := pathfmt.Inject(endpoint, vars)
	data, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, FetchError.New("parsing %s: %v", url, err)
	}
	if m.Files == nil {
		m.Files = make(map[string]FileInfo)
	}
	if len(m.Files) > 0 && m.URLFormat == "" {
		return nil, FetchError.New("%s: manifest lists files but has no url_format", url)
	}
	for name, f := range m.Files {
		if name == "" || f.Size < 0 {
			return nil, FetchError.New("%s: invalid entry %q (size %d)", url, name, f.Size)
		}
	}
	return &m, nil
}

// FetchHash downloads a plain-text hex digest, such as the launcher's
// "<url>.hash" file.
func (c *Client) FetchHash(ctx context.Context, url string) (string, error) {
	data, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	hash := strings.ToLower(strings.TrimSpace(string(data)))
	if hash == "" {
		return "", FetchError.New("%s: empty hash file", url)
	}
	return hash, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, FetchError.New("creating request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, FetchError.Wrap(fmt.Errorf("fetching %s: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, FetchError.New("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, FetchError.Wrap(fmt.Errorf("reading %s: %w", url, err))
	}
	return data, nil
}
