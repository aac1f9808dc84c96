package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CopyFox/internal/pkg/shortener"
)

const (
	ROLE_FREE       = "free"
	ROLE_STARTER    = "starter"
	ROLE_PRO        = "pro"
	ROLE_VAULT      = "vault"
	ROLE_AGENCY     = "agency"
	ROLE_SUSPENDED  = "suspended"
	STATUS_ACTIVE   = "active"
	STATUS_REVIEW   = "review"
	STATUS_DISABLED = "disabled"
)

const apiKeyPrefixLength = 8

// User is the account record. Role is a projection of the subscription
// ledger and is only written by the entitlement sync path.
type User struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email             string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password          string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role              string         `gorm:"type:varchar(50);not null;default:'free';index" json:"role" validate:"oneof=free starter pro vault agency suspended"`
	Status            string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active review disabled"`
	AccessGranted     bool           `gorm:"not null;default:true" json:"access_granted"`
	SuspendedReason   string         `gorm:"type:varchar(255);default:''" json:"suspended_reason,omitempty"`
	ReferralCode      string         `gorm:"type:varchar(32);uniqueIndex" json:"referral_code"`
	ReferredByID      *uint          `gorm:"index" json:"referred_by_id,omitempty"`
	SignupIP          string         `gorm:"type:varchar(45);default:'';index" json:"-"`
	SignupFingerprint string         `gorm:"type:varchar(128);default:'';index" json:"-"`
	RiskScore         int            `gorm:"not null;default:0" json:"risk_score"`
	APIKeyHash        string         `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix      string         `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

func CreateUser(username string, email string, password string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:          username,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		Password:      pw,
		Role:          ROLE_FREE,
		Status:        STATUS_ACTIVE,
		AccessGranted: true,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE || u.Status == STATUS_REVIEW
}

// GenerateReferralCode sets a random, URL-safe referral code.
func (u *User) GenerateReferralCode() error {
	code, err := shortener.GenerateReferralCode()
	if err != nil {
		return err
	}
	u.ReferralCode = code
	return nil
}

// IssueAPIKey generates a new API key, stores its hash on the struct and
// returns the raw secret. The raw key is never persisted.
func (u *User) IssueAPIKey() (string, error) {
	secret, err := shortener.GenerateSecureSlug(40)
	if err != nil {
		return "", err
	}
	rawKey := "cfx_" + secret
	u.APIKeyHash = HashAPIKey(rawKey)
	u.APIKeyPrefix = rawKey[:apiKeyPrefixLength]
	return rawKey, nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
