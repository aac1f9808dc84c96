package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/abuse"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmailTaken      = errors.New("email already registered")
	ErrCaptchaFailed   = errors.New("captcha verification failed")
	ErrAlreadyReferred = errors.New("user already referred")
)

// UserStore is the part of the user repository account creation needs.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetReferredBy(ctx context.Context, id, referrerID uint) error
}

type ReferralStore interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByReferredID(ctx context.Context, referredID uint) (*models.Referral, error)
}

type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// SignupInput is the body of a signup request.
type SignupInput struct {
	Name         string `json:"name" validate:"required,min=3,max=150"`
	Email        string `json:"email" validate:"required,email,max=200"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	ReferralCode string `json:"referral_code" validate:"omitempty,max=32"`
	Fingerprint  string `json:"fingerprint" validate:"omitempty,max=128"`
	CaptchaToken string `json:"captcha_token"`
}

// RequestMeta carries what the HTTP layer knows about the caller.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type SignupResult struct {
	User     *models.User
	APIKey   string
	Decision *abuse.SignupDecision
	Referral *models.Referral
}

// Service creates accounts behind the abuse guard.
type Service struct {
	users     UserStore
	referrals ReferralStore
	guard     *abuse.Guard
	captcha   CaptchaVerifier
	validate  *validator.Validate
}

func NewService(users UserStore, referrals ReferralStore, guard *abuse.Guard) *Service {
	return &Service{
		users:     users,
		referrals: referrals,
		guard:     guard,
		validate:  validator.New(),
	}
}

// SetCaptcha enables captcha verification on signup.
func (s *Service) SetCaptcha(c CaptchaVerifier) {
	s.captcha = c
}

// Register creates an account. A rate-limited caller gets an
// *abuse.RateLimitError; advisory signals only raise the risk score and may
// put the account into review.
func (s *Service) Register(ctx context.Context, in SignupInput, meta RequestMeta) (*SignupResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	attempt := abuse.Attempt{IP: meta.IP, Fingerprint: in.Fingerprint, UserAgent: meta.UserAgent, Email: in.Email}
	decision, err := s.guard.CheckSignup(ctx, attempt)
	if err != nil {
		return nil, err
	}

	if s.captcha != nil {
		ok, err := s.captcha.Verify(ctx, in.CaptchaToken, meta.IP)
		if err != nil {
			log.Warnf("[Accounts] Captcha verification error: %v", err)
		}
		if !ok {
			return nil, ErrCaptchaFailed
		}
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	user, err := models.CreateUser(in.Name, in.Email, in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user.SignupIP = strings.TrimSpace(meta.IP)
	user.SignupFingerprint = strings.TrimSpace(in.Fingerprint)
	user.RiskScore = decision.RiskScore
	if decision.Review {
		user.Status = models.STATUS_REVIEW
	}
	if err := user.GenerateReferralCode(); err != nil {
		return nil, fmt.Errorf("generate referral code: %w", err)
	}
	rawKey, err := user.IssueAPIKey()
	if err != nil {
		return nil, fmt.Errorf("issue api key: %w", err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.guard.RecordSignup(ctx, user.ID, attempt, decision); err != nil {
		log.Warnf("[Accounts] Failed to record signup observation for user %d: %v", user.ID, err)
	}
	log.Infof("[Accounts] Created user %d (status %s, risk %d)", user.ID, user.Status, user.RiskScore)

	result := &SignupResult{User: user, APIKey: rawKey, Decision: decision}
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		// The account exists at this point; a bad code only loses the referral.
		referral, err := s.ClaimReferral(ctx, user.ID, code, attempt)
		if err != nil {
			log.Infof("[Accounts] Referral code not applied for user %d: %v", user.ID, err)
		} else {
			result.Referral = referral
			user.ReferredByID = &referral.ReferrerID
		}
	}
	return result, nil
}

// ClaimReferral attributes referredID to the owner of code. Unknown codes and
// self-referrals both surface as abuse.ErrReferralRejected.
func (s *Service) ClaimReferral(ctx context.Context, referredID uint, code string, attempt abuse.Attempt) (*models.Referral, error) {
	referrer, err := s.users.GetByReferralCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup referral code: %w", err)
	}
	if referrer == nil {
		return nil, abuse.ErrReferralRejected
	}

	existing, err := s.referrals.GetByReferredID(ctx, referredID)
	if err != nil {
		return nil, fmt.Errorf("lookup referral: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyReferred
	}

	decision, err := s.guard.CheckReferral(ctx, abuse.ReferralCheck{
		ReferrerID: referrer.ID,
		ReferredID: referredID,
		Attempt:    attempt,
	})
	if err != nil {
		return nil, err
	}

	referral := &models.Referral{
		ReferrerID: referrer.ID,
		ReferredID: referredID,
		Status:     models.ReferralStatusAccepted,
		RiskScore:  decision.RiskScore,
	}
	if decision.Flagged {
		referral.Status = models.ReferralStatusFlagged
	}
	if err := s.referrals.Create(ctx, referral); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyReferred
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}
	if err := s.users.SetReferredBy(ctx, referredID, referrer.ID); err != nil {
		return nil, fmt.Errorf("set referrer: %w", err)
	}
	return referral, nil
}
