package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
	"github.com/ManuelReschke/CopyFox/internal/pkg/accounts"
	"github.com/ManuelReschke/CopyFox/internal/pkg/usercontext"
)

// AccountService creates accounts and attributes referrals.
type AccountService interface {
	Register(ctx context.Context, in accounts.SignupInput, meta accounts.RequestMeta) (*accounts.SignupResult, error)
	ClaimReferral(ctx context.Context, referredID uint, code string, attempt abuse.Attempt) (*models.Referral, error)
}

// ReferralLister reads a referrer's attributed signups.
type ReferralLister interface {
	ListByReferrer(ctx context.Context, referrerID uint) ([]models.Referral, error)
	CountRewardable(ctx context.Context, referrerID uint) (int64, error)
}

// AccountController serves signup and referral claims behind the abuse guard.
type AccountController struct {
	accounts  AccountService
	referrals ReferralLister
}

// NewAccountController creates the account controller
func NewAccountController(svc AccountService, referrals ReferralLister) *AccountController {
	return &AccountController{accounts: svc, referrals: referrals}
}

// HandleSignup creates an account. Only the rate limit and captcha reject
// for abuse reasons; risky signups land in review.
func (acc *AccountController) HandleSignup(c *fiber.Ctx) error {
	var in accounts.SignupInput
	if err := c.BodyParser(&in); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	if in.Fingerprint == "" {
		in.Fingerprint = strings.TrimSpace(c.Get("X-Device-Fingerprint"))
	}

	result, err := acc.accounts.Register(c.UserContext(), in, accounts.RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return signupError(c, err)
	}

	body := fiber.Map{
		"user": fiber.Map{
			"id":            result.User.ID,
			"email":         result.User.Email,
			"role":          result.User.Role,
			"status":        result.User.Status,
			"referral_code": result.User.ReferralCode,
		},
		"api_key": result.APIKey,
		"review":  result.User.Status == models.STATUS_REVIEW,
	}
	if result.Referral != nil {
		body["referral"] = fiber.Map{"status": result.Referral.Status}
	}
	return c.Status(fiber.StatusCreated).JSON(body)
}

type referralRequest struct {
	Code        string `json:"code"`
	Fingerprint string `json:"fingerprint"`
}

// HandleClaimReferral attributes the authenticated user to a referral code.
func (acc *AccountController) HandleClaimReferral(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}
	var req referralRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || len(req.Code) > 32 {
		return errorResponse(c, fiber.StatusBadRequest, "validation_failed", "code is required")
	}
	if req.Fingerprint == "" {
		req.Fingerprint = strings.TrimSpace(c.Get("X-Device-Fingerprint"))
	}

	referral, err := acc.accounts.ClaimReferral(c.UserContext(), userID, req.Code, abuse.Attempt{
		IP:          c.IP(),
		Fingerprint: req.Fingerprint,
		UserAgent:   c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		switch {
		case errors.Is(err, abuse.ErrReferralRejected):
			return errorResponse(c, fiber.StatusForbidden, "referral_rejected", "Referral code cannot be applied")
		case errors.Is(err, accounts.ErrAlreadyReferred):
			return errorResponse(c, fiber.StatusConflict, "already_referred", "Account already has a referrer")
		}
		log.Errorf("[Accounts] Referral claim for user %d failed: %v", userID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Referral failed")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": referral.Status})
}

// HandleListOwnReferrals lists the caller's referrals and how many of them
// are rewardable. Flagged referrals are listed but not counted.
func (acc *AccountController) HandleListOwnReferrals(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}
	ctx := c.UserContext()
	referrals, err := acc.referrals.ListByReferrer(ctx, userID)
	if err != nil {
		log.Errorf("[Accounts] Listing referrals of user %d failed: %v", userID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load referrals")
	}
	rewardable, err := acc.referrals.CountRewardable(ctx, userID)
	if err != nil {
		log.Errorf("[Accounts] Counting referrals of user %d failed: %v", userID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load referrals")
	}
	return c.JSON(fiber.Map{"referrals": referrals, "rewardable": rewardable})
}

func signupError(c *fiber.Ctx, err error) error {
	if rle, ok := abuse.AsRateLimitError(err); ok {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(rle.RetryAfterSeconds()))
		return errorResponse(c, fiber.StatusTooManyRequests, "rate_limited", "Too many signup attempts")
	}
	switch {
	case errors.Is(err, accounts.ErrInvalidInput):
		return errorResponse(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, accounts.ErrCaptchaFailed):
		return errorResponse(c, fiber.StatusBadRequest, "captcha_failed", "Captcha verification failed")
	case errors.Is(err, accounts.ErrEmailTaken):
		return errorResponse(c, fiber.StatusConflict, "email_taken", "Email already registered")
	}
	log.Errorf("[Accounts] Signup failed: %v", err)
	return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Signup failed")
}
