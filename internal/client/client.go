package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// localStorageClipURLTemplate is the fixed path shape used to stage a
// locally stored clip for download. Placeholders are substituted verbatim.
const localStorageClipURLTemplate = "/api/v1/accounts/{account_id}/networks/{network_id}" +
	"/sync_modules/{sync_id}/local_storage/manifest/{manifest_id}/clip/request/{clip_id}"

// Client is the HTTP request facade for the Blink REST API. Every call
// returns typed JSON or raw bytes; transport failures surface as a
// single *TransportError so poll cycles can convert them to boolean
// failures instead of crashing.
type Client struct {
	rest    *resty.Client
	auth    *Auth
	logger  *zap.Logger
	baseURL string
}

// New creates an API client bound to the given auth handler.
func New(auth *Auth, timeout time.Duration, logger *zap.Logger) *Client {
	rest := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		rest:   rest,
		auth:   auth,
		logger: logger,
	}
}

// Auth returns the underlying auth handler.
func (c *Client) Auth() *Auth {
	return c.auth
}

// AccountID returns the numeric id of the signed-in account.
func (c *Client) AccountID() int {
	return c.auth.AccountID()
}

// SetBaseURL overrides the derived REST base URL, e.g. for a proxy.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// BaseURL returns the region-specific REST base URL.
func (c *Client) BaseURL() string {
	if c.baseURL != "" {
		return c.baseURL
	}
	region := c.auth.RegionID()
	if region == "" {
		region = "prod"
	}
	return fmt.Sprintf("https://rest-%s.%s", region, blinkDomain)
}

// AbsURL qualifies a media path against the base URL. Paths that are
// already absolute are returned unchanged.
func (c *Client) AbsURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL() + path
}

// LocalStorageClipURL expands the clip staging template for one clip.
func (c *Client) LocalStorageClipURL(networkID, syncID int, manifestID, clipID string) string {
	r := strings.NewReplacer(
		"{account_id}", fmt.Sprint(c.auth.AccountID()),
		"{network_id}", fmt.Sprint(networkID),
		"{sync_id}", fmt.Sprint(syncID),
		"{manifest_id}", manifestID,
		"{clip_id}", clipID,
	)
	return r.Replace(localStorageClipURLTemplate)
}

// IsLocalStorageClipURL reports whether a clip path came from the local
// storage subsystem.
func IsLocalStorageClipURL(path string) bool {
	return strings.Contains(path, "/local_storage/manifest/")
}

// GetJSON performs a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON performs a POST request and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	return c.do(ctx, http.MethodPost, url, body, out)
}

// GetBytes downloads a raw media resource (thumbnail/clip bytes).
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	hdr := c.auth.Header()
	if hdr == nil {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeaders(hdr).
		Get(url)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		if err := c.auth.RefreshTokens(ctx); err != nil {
			return nil, ErrUnauthorized
		}
		resp, err = c.rest.R().
			SetContext(ctx).
			SetHeaders(c.auth.Header()).
			Get(url)
		if err != nil {
			return nil, &TransportError{URL: url, Err: err}
		}
	}

	if resp.IsError() {
		return nil, fmt.Errorf("GET %s failed with status %d", url, resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("%w: empty body from %s", ErrBadResponse, url)
	}
	return resp.Body(), nil
}

// do runs one request with a single refresh-and-retry on 401. A second
// 401 after refresh is terminal for the call.
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	hdr := c.auth.Header()
	if hdr == nil {
		return ErrNotAuthenticated
	}

	resp, err := c.execute(ctx, method, url, hdr, body, out)
	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == 101 {
		c.logger.Debug("Request unauthorized, refreshing token", zap.String("url", url))
		if refreshErr := c.auth.RefreshTokens(ctx); refreshErr != nil {
			return ErrUnauthorized
		}
		resp, err = c.execute(ctx, method, url, c.auth.Header(), body, out)
		if err != nil {
			return err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return ErrUnauthorized
		}
	}

	if resp.IsError() {
		return fmt.Errorf("%s %s failed with status %d: %s", method, url, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) execute(ctx context.Context, method, url string, hdr map[string]string, body, out any) (*resty.Response, error) {
	req := c.rest.R().
		SetContext(ctx).
		SetHeaders(hdr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	return resp, nil
}
