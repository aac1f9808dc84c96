package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
	"github.com/ManuelReschke/CopyFox/internal/pkg/accounts"
	"github.com/ManuelReschke/CopyFox/internal/pkg/usercontext"
)

type fakeAccounts struct {
	registerErr error
	claimErr    error
	lastInput   accounts.SignupInput
	lastMeta    accounts.RequestMeta
	lastAttempt abuse.Attempt
	review      bool
}

func (f *fakeAccounts) Register(_ context.Context, in accounts.SignupInput, meta accounts.RequestMeta) (*accounts.SignupResult, error) {
	f.lastInput, f.lastMeta = in, meta
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	u := &models.User{ID: 11, Email: in.Email, Role: models.ROLE_FREE, Status: models.STATUS_ACTIVE, ReferralCode: "ABCD1234"}
	if f.review {
		u.Status = models.STATUS_REVIEW
	}
	res := &accounts.SignupResult{User: u, APIKey: "cfx_plain"}
	if in.ReferralCode != "" {
		res.Referral = &models.Referral{ReferrerID: 1, ReferredID: u.ID, Status: models.ReferralStatusFlagged}
	}
	return res, nil
}

func (f *fakeAccounts) ClaimReferral(_ context.Context, referredID uint, code string, attempt abuse.Attempt) (*models.Referral, error) {
	f.lastAttempt = attempt
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return &models.Referral{ReferrerID: 1, ReferredID: referredID, Status: models.ReferralStatusAccepted}, nil
}

func (f *fakeAccounts) ListByReferrer(_ context.Context, referrerID uint) ([]models.Referral, error) {
	return []models.Referral{
		{ID: 1, ReferrerID: referrerID, ReferredID: 20, Status: models.ReferralStatusAccepted},
		{ID: 2, ReferrerID: referrerID, ReferredID: 21, Status: models.ReferralStatusFlagged},
	}, nil
}

func (f *fakeAccounts) CountRewardable(_ context.Context, _ uint) (int64, error) {
	return 1, nil
}

func newAccountApp(f *fakeAccounts, userID uint) *fiber.App {
	acc := NewAccountController(f, f)
	app := fiber.New()
	app.Post("/signup", acc.HandleSignup)
	app.Post("/referrals", func(c *fiber.Ctx) error {
		if userID != 0 {
			usercontext.Set(c, usercontext.UserContext{UserID: userID, IsLoggedIn: true})
		}
		return c.Next()
	}, acc.HandleClaimReferral)
	app.Get("/me/referrals", func(c *fiber.Ctx) error {
		if userID != 0 {
			usercontext.Set(c, usercontext.UserContext{UserID: userID, IsLoggedIn: true})
		}
		return c.Next()
	}, acc.HandleListOwnReferrals)
	return app
}

const signupBody = `{"name":"Alice","email":"alice@example.com","password":"correct horse"}`

func TestSignup(t *testing.T) {
	f := &fakeAccounts{}
	app := newAccountApp(f, 0)

	req := jsonRequest(http.MethodPost, "/signup", signupBody)
	req.Header.Set("X-Device-Fingerprint", "fp-1")
	req.Header.Set(fiber.HeaderUserAgent, "curl/8")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "cfx_plain", body["api_key"])
	assert.Equal(t, false, body["review"])
	assert.Nil(t, body["referral"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "ABCD1234", user["referral_code"])

	assert.Equal(t, "fp-1", f.lastInput.Fingerprint)
	assert.Equal(t, "curl/8", f.lastMeta.UserAgent)
	assert.NotEmpty(t, f.lastMeta.IP)
}

func TestSignup_ReviewAndReferral(t *testing.T) {
	f := &fakeAccounts{review: true}
	app := newAccountApp(f, 0)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/signup",
		`{"name":"Alice","email":"alice@example.com","password":"correct horse","referral_code":"REF1","fingerprint":"fp-body"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["review"])
	assert.Equal(t, models.ReferralStatusFlagged, body["referral"].(map[string]interface{})["status"])
	assert.Equal(t, "fp-body", f.lastInput.Fingerprint)
}

func TestSignup_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"rate limited", fmt.Errorf("signup: %w", &abuse.RateLimitError{Key: "ip", RetryAfter: 90 * time.Second}), fiber.StatusTooManyRequests, "rate_limited"},
		{"invalid", fmt.Errorf("%w: email", accounts.ErrInvalidInput), fiber.StatusBadRequest, "validation_failed"},
		{"captcha", accounts.ErrCaptchaFailed, fiber.StatusBadRequest, "captcha_failed"},
		{"email taken", accounts.ErrEmailTaken, fiber.StatusConflict, "email_taken"},
		{"unexpected", fmt.Errorf("db gone"), fiber.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newAccountApp(&fakeAccounts{registerErr: tt.err}, 0)
			resp, err := app.Test(jsonRequest(http.MethodPost, "/signup", signupBody))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.code, decodeBody(t, resp)["error"])
			if tt.want == fiber.StatusTooManyRequests {
				assert.Equal(t, "90", resp.Header.Get(fiber.HeaderRetryAfter))
			}
		})
	}
}

func TestClaimReferral(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		app := newAccountApp(&fakeAccounts{}, 0)
		resp, err := app.Test(jsonRequest(http.MethodPost, "/referrals", `{"code":"REF1"}`))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing code", func(t *testing.T) {
		app := newAccountApp(&fakeAccounts{}, 5)
		resp, err := app.Test(jsonRequest(http.MethodPost, "/referrals", `{"code":"  "}`))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp, err = app.Test(jsonRequest(http.MethodPost, "/referrals", `{"code":"`+strings.Repeat("x", 33)+`"}`))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("accepted", func(t *testing.T) {
		f := &fakeAccounts{}
		app := newAccountApp(f, 5)
		req := jsonRequest(http.MethodPost, "/referrals", `{"code":"REF1"}`)
		req.Header.Set("X-Device-Fingerprint", "fp-9")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		assert.Equal(t, models.ReferralStatusAccepted, decodeBody(t, resp)["status"])
		assert.Equal(t, "fp-9", f.lastAttempt.Fingerprint)
	})

	t.Run("rejected", func(t *testing.T) {
		app := newAccountApp(&fakeAccounts{claimErr: fmt.Errorf("claim: %w", abuse.ErrReferralRejected)}, 5)
		resp, err := app.Test(jsonRequest(http.MethodPost, "/referrals", `{"code":"REF1"}`))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})

	t.Run("already referred", func(t *testing.T) {
		app := newAccountApp(&fakeAccounts{claimErr: accounts.ErrAlreadyReferred}, 5)
		resp, err := app.Test(jsonRequest(http.MethodPost, "/referrals", `{"code":"REF1"}`))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})
}

func TestListOwnReferrals(t *testing.T) {
	resp, err := newAccountApp(&fakeAccounts{}, 0).Test(httptest.NewRequest(http.MethodGet, "/me/referrals", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = newAccountApp(&fakeAccounts{}, 5).Test(httptest.NewRequest(http.MethodGet, "/me/referrals", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["referrals"], 2)
	assert.EqualValues(t, 1, body["rewardable"])
}
