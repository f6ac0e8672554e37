package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultHost   = "rest-prod.immedia-semi.com"
	blinkDomain   = "immedia-semi.com"
	loginEndpoint = "https://" + defaultHost + "/api/v5/account/login"

	// Tokens are refreshed slightly before their reported expiry so a
	// request never goes out with a token about to lapse mid-flight.
	expiryMargin = 60 * time.Second
)

// LoginData holds the credentials used to obtain tokens.
type LoginData struct {
	Email    string
	Password string
	UniqueID string
	DeviceID string
}

// LoginResponse is the payload returned by the login endpoint.
type LoginResponse struct {
	Account struct {
		AccountID                  int    `json:"account_id"`
		ClientID                   int    `json:"client_id"`
		UserID                     int    `json:"user_id"`
		Tier                       string `json:"tier"`
		ClientVerificationRequired bool   `json:"client_verification_required"`
	} `json:"account"`
	Auth struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	} `json:"auth"`
}

// Auth owns the bearer token lifecycle: initial login, expiry-driven
// refresh, and 2FA pin verification.
//
// Refresh is single-flight: a 401 anywhere triggers one refresh, and
// concurrent callers hitting 401 during an in-flight refresh wait for
// that refresh instead of triggering their own.
type Auth struct {
	data     LoginData
	rest     *resty.Client
	logger   *zap.Logger
	loginURL string

	mu           sync.Mutex
	token        string
	refreshToken string
	expiresAt    time.Time
	regionID     string
	accountID    int
	clientID     int
	userID       int
	inflight     *refreshFlight

	// Callback invoked after every successful refresh, e.g. to persist
	// credentials.
	OnRefresh func()
}

type refreshFlight struct {
	done chan struct{}
	err  error
}

// NewAuth creates an auth handler for the given credentials.
func NewAuth(data LoginData, timeout time.Duration, logger *zap.Logger) *Auth {
	rest := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Auth{
		data:     data,
		rest:     rest,
		logger:   logger,
		loginURL: loginEndpoint,
	}
}

// Header returns the authorization headers, or nil when no token is held.
func (a *Auth) Header() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return nil
	}
	return map[string]string{
		"Authorization": "Bearer " + a.token,
		"Content-Type":  "application/json",
	}
}

// RegionID returns the region identifier assigned at login.
func (a *Auth) RegionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regionID
}

// AccountID returns the numeric account id assigned at login.
func (a *Auth) AccountID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountID
}

// ClientID returns the numeric client id assigned at login.
func (a *Auth) ClientID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

// Startup obtains tokens if none are held yet.
func (a *Auth) Startup(ctx context.Context) error {
	a.mu.Lock()
	haveToken := a.token != ""
	a.mu.Unlock()

	if haveToken {
		return nil
	}
	return a.RefreshTokens(ctx)
}

// NeedRefresh reports whether the held token is missing or near expiry.
func (a *Auth) NeedRefresh() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return true
	}
	if a.expiresAt.IsZero() {
		return false
	}
	return time.Until(a.expiresAt) < expiryMargin
}

// RefreshTokens performs a login or token refresh. Concurrent callers
// share a single in-flight refresh and receive its result.
func (a *Auth) RefreshTokens(ctx context.Context) error {
	a.mu.Lock()
	if fl := a.inflight; fl != nil {
		a.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &refreshFlight{done: make(chan struct{})}
	a.inflight = fl
	a.mu.Unlock()

	fl.err = a.doRefresh(ctx)

	a.mu.Lock()
	a.inflight = nil
	a.mu.Unlock()
	close(fl.done)

	return fl.err
}

func (a *Auth) doRefresh(ctx context.Context) error {
	a.logger.Info("Obtaining authentication token")

	body := map[string]any{
		"email":             a.data.Email,
		"password":          a.data.Password,
		"unique_id":         a.data.UniqueID,
		"device_identifier": a.data.DeviceID,
		"client_name":       "Computer",
		"reauth":            true,
	}

	var result LoginResponse
	resp, err := a.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(a.loginURL)
	if err != nil {
		return &TransportError{URL: a.loginURL, Err: err}
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		a.logger.Error("Login rejected, invalid credentials")
		return ErrUnauthorized
	case resp.StatusCode() == http.StatusPreconditionFailed:
		return ErrTwoFARequired
	case resp.IsError():
		return fmt.Errorf("login failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	if result.Auth.Token == "" {
		return fmt.Errorf("%w: login response missing token", ErrBadResponse)
	}

	a.mu.Lock()
	a.token = result.Auth.Token
	a.refreshToken = result.Auth.RefreshToken
	if result.Auth.ExpiresIn > 0 {
		a.expiresAt = time.Now().Add(time.Duration(result.Auth.ExpiresIn) * time.Second)
	}
	a.regionID = result.Account.Tier
	a.accountID = result.Account.AccountID
	a.clientID = result.Account.ClientID
	a.userID = result.Account.UserID
	verificationRequired := result.Account.ClientVerificationRequired
	a.mu.Unlock()

	if a.OnRefresh != nil {
		a.OnRefresh()
	}

	a.logger.Info("Authentication token obtained",
		zap.String("region", result.Account.Tier),
		zap.Bool("verification_required", verificationRequired),
	)

	if verificationRequired {
		return ErrTwoFARequired
	}
	return nil
}

// Credentials is the session state persisted between runs so a restart
// does not force a fresh login (and another 2FA round).
type Credentials struct {
	UniqueID     string `json:"unique_id"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	RegionID     string `json:"region_id"`
	AccountID    int    `json:"account_id"`
	ClientID     int    `json:"client_id"`
	UserID       int    `json:"user_id"`
}

// Export snapshots the current session state.
func (a *Auth) Export() Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Credentials{
		UniqueID:     a.data.UniqueID,
		Token:        a.token,
		RefreshToken: a.refreshToken,
		RegionID:     a.regionID,
		AccountID:    a.accountID,
		ClientID:     a.clientID,
		UserID:       a.userID,
	}
}

// Restore seeds the session from persisted state. The token is used
// as-is; a 401 on the first request triggers a normal refresh.
func (a *Auth) Restore(c Credentials) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c.UniqueID != "" {
		a.data.UniqueID = c.UniqueID
	}
	a.token = c.Token
	a.refreshToken = c.RefreshToken
	a.regionID = c.RegionID
	a.accountID = c.AccountID
	a.clientID = c.ClientID
	a.userID = c.UserID
}

// Send2FAPin completes a pending two-factor verification.
func (a *Auth) Send2FAPin(ctx context.Context, pin string) error {
	a.mu.Lock()
	accountID := a.accountID
	clientID := a.clientID
	regionID := a.regionID
	a.mu.Unlock()

	if accountID == 0 || clientID == 0 {
		return ErrNotAuthenticated
	}

	url := fmt.Sprintf("https://rest-%s.%s/api/v4/account/%d/client/%d/pin/verify",
		regionID, blinkDomain, accountID, clientID)

	resp, err := a.rest.R().
		SetContext(ctx).
		SetHeaders(a.Header()).
		SetBody(map[string]string{"pin": pin}).
		Post(url)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	if resp.IsError() {
		return fmt.Errorf("pin verification failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	a.logger.Info("Two-factor verification completed")
	return nil
}
