package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuth(t *testing.T, handler http.HandlerFunc) *Auth {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	auth := NewAuth(LoginData{Email: "user@example.com", Password: "pw"}, 5*time.Second, zap.NewNop())
	auth.loginURL = srv.URL + "/login"
	return auth
}

// 동시 다발적인 401이 하나의 토큰 갱신만 일으켜야 합니다
func TestRefreshTokensSingleFlight(t *testing.T) {
	var loginCalls int32
	auth := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginCalls, 1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"account":{"account_id":1,"tier":"u011"},"auth":{"token":"tok","expires_in":3600}}`))
	})

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = auth.RefreshTokens(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&loginCalls))
	assert.Equal(t, "u011", auth.RegionID())
}

func TestRefreshTokensUnauthorized(t *testing.T) {
	auth := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := auth.RefreshTokens(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshTokensTwoFARequired(t *testing.T) {
	t.Run("precondition failed", func(t *testing.T) {
		auth := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPreconditionFailed)
		})
		err := auth.RefreshTokens(context.Background())
		assert.ErrorIs(t, err, ErrTwoFARequired)
	})

	t.Run("verification flag set", func(t *testing.T) {
		auth := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"account":{"account_id":1,"tier":"u011","client_verification_required":true},"auth":{"token":"tok"}}`))
		})
		err := auth.RefreshTokens(context.Background())
		assert.ErrorIs(t, err, ErrTwoFARequired)
		// 토큰 자체는 보관되어 PIN 검증 요청에 사용됩니다
		assert.NotNil(t, auth.Header())
	})
}

func TestRefreshTokensMissingToken(t *testing.T) {
	auth := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"account":{"account_id":1}}`))
	})

	err := auth.RefreshTokens(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestNeedRefresh(t *testing.T) {
	auth := NewAuth(LoginData{}, time.Second, zap.NewNop())
	assert.True(t, auth.NeedRefresh())

	auth.Restore(Credentials{Token: "tok"})
	assert.False(t, auth.NeedRefresh())

	auth.mu.Lock()
	auth.expiresAt = time.Now().Add(30 * time.Second)
	auth.mu.Unlock()
	assert.True(t, auth.NeedRefresh())
}

func TestExportRestoreRoundTrip(t *testing.T) {
	original := Credentials{
		UniqueID:     "uid-1",
		Token:        "tok",
		RefreshToken: "refresh",
		RegionID:     "u011",
		AccountID:    1234,
		ClientID:     5678,
		UserID:       9,
	}

	auth := NewAuth(LoginData{Email: "user@example.com"}, time.Second, zap.NewNop())
	auth.Restore(original)

	exported := auth.Export()
	require.Equal(t, original, exported)
	assert.Equal(t, 1234, auth.AccountID())
	assert.Equal(t, 5678, auth.ClientID())
}

func TestHeader(t *testing.T) {
	auth := NewAuth(LoginData{}, time.Second, zap.NewNop())
	assert.Nil(t, auth.Header())

	auth.Restore(Credentials{Token: "tok"})
	hdr := auth.Header()
	require.NotNil(t, hdr)
	assert.Equal(t, "Bearer tok", hdr["Authorization"])
}
