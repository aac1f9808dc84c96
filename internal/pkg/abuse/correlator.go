package abuse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/metrics"
)

// Attempt is what the signup and referral endpoints know about a request.
type Attempt struct {
	IP          string
	Fingerprint string
	UserAgent   string
	Email       string
}

func (a Attempt) normalized() Attempt {
	a.IP = strings.TrimSpace(a.IP)
	a.Fingerprint = strings.TrimSpace(a.Fingerprint)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if len(a.UserAgent) > 512 {
		a.UserAgent = a.UserAgent[:512]
	}
	return a
}

// Correlator compares an attempt with earlier observations and emits
// advisory signals.
type Correlator struct {
	store      Store
	cfg        Config
	disposable domainSet
	now        func() time.Time
}

func NewCorrelator(store Store, cfg Config) *Correlator {
	return &Correlator{
		store:      store,
		cfg:        cfg,
		disposable: newDomainSet(cfg.DisposableDomains),
		now:        time.Now,
	}
}

// Observe returns the signals a signup attempt raises. Nothing is written;
// Record persists the observation once the account exists.
func (c *Correlator) Observe(ctx context.Context, a Attempt) ([]models.AbuseSignal, error) {
	a = a.normalized()
	var signals []models.AbuseSignal

	if a.Fingerprint != "" && c.cfg.FingerprintThreshold > 0 {
		accounts, err := c.store.CountAccountsByFingerprint(ctx, a.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("count accounts by fingerprint: %w", err)
		}
		// The account being created is the next one on this device.
		if int(accounts)+1 >= c.cfg.FingerprintThreshold {
			severity := models.AbuseSeverityMedium
			if int(accounts)+1 >= 2*c.cfg.FingerprintThreshold {
				severity = models.AbuseSeverityHigh
			}
			signals = append(signals, newSignal(a, models.AbuseSignalDuplicateFingerprint, severity,
				fmt.Sprintf("fingerprint shared by %d existing accounts", accounts)))
		}
	}

	if a.IP != "" && c.cfg.IPVelocityThreshold > 0 {
		since := c.now().Add(-c.cfg.IPVelocityWindow)
		signups, err := c.store.CountSignupsByIPSince(ctx, a.IP, since)
		if err != nil {
			return nil, fmt.Errorf("count signups by ip: %w", err)
		}
		if int(signups)+1 >= c.cfg.IPVelocityThreshold {
			signals = append(signals, newSignal(a, models.AbuseSignalIPVelocity, models.AbuseSeverityMedium,
				fmt.Sprintf("%d signups from this ip in %s", signups, c.cfg.IPVelocityWindow)))
		}
	}

	if a.Email != "" && c.disposable.contains(a.Email) {
		signals = append(signals, newSignal(a, models.AbuseSignalDisposableEmail, models.AbuseSeverityLow, "disposable email domain"))
	}
	return signals, nil
}

// Record stores the observation for userID and persists signals against it.
func (c *Correlator) Record(ctx context.Context, userID uint, action string, a Attempt, signals []models.AbuseSignal) error {
	a = a.normalized()
	if a.Fingerprint != "" || a.IP != "" {
		id := userID
		fp := &models.DeviceFingerprint{
			Fingerprint: a.Fingerprint,
			UserAgent:   a.UserAgent,
			IPAddress:   a.IP,
			Action:      action,
		}
		if id != 0 {
			fp.UserID = &id
		}
		if err := c.store.RecordFingerprint(ctx, fp); err != nil {
			return fmt.Errorf("record fingerprint: %w", err)
		}
	}
	return c.persist(ctx, userID, signals)
}

func (c *Correlator) persist(ctx context.Context, userID uint, signals []models.AbuseSignal) error {
	if len(signals) == 0 {
		return nil
	}
	rows := make([]models.AbuseSignal, len(signals))
	copy(rows, signals)
	for i := range rows {
		if userID != 0 && rows[i].UserID == nil {
			id := userID
			rows[i].UserID = &id
		}
	}
	if err := c.store.CreateSignals(ctx, rows); err != nil {
		return fmt.Errorf("store abuse signals: %w", err)
	}
	for _, s := range rows {
		metrics.AbuseSignalsTotal.WithLabelValues(s.SignalType).Inc()
		log.Infof("[Abuse] %s (severity %d) ip=%s user=%d: %s", s.SignalType, s.Severity, s.IPAddress, userID, s.Detail)
	}
	return nil
}

func newSignal(a Attempt, signalType string, severity int, detail string) models.AbuseSignal {
	return models.AbuseSignal{
		IPAddress:         a.IP,
		DeviceFingerprint: a.Fingerprint,
		Email:             a.Email,
		SignalType:        signalType,
		Severity:          severity,
		Detail:            detail,
	}
}
