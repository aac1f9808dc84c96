package abuse

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/CopyFox/app/models"
)

type memStore struct {
	mu           sync.Mutex
	now          func() time.Time
	fingerprints []models.DeviceFingerprint
	signals      []models.AbuseSignal
	reads        int
	writes       int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now}
}

func (s *memStore) RecordFingerprint(_ context.Context, fp *models.DeviceFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	fp.ID = uint(len(s.fingerprints) + 1)
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = s.now()
	}
	s.fingerprints = append(s.fingerprints, *fp)
	return nil
}

func (s *memStore) CountAccountsByFingerprint(_ context.Context, fingerprint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	users := map[uint]struct{}{}
	for _, fp := range s.fingerprints {
		if fp.Fingerprint == fingerprint && fp.UserID != nil {
			users[*fp.UserID] = struct{}{}
		}
	}
	return int64(len(users)), nil
}

func (s *memStore) CountSignupsByIPSince(_ context.Context, ip string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var n int64
	for _, fp := range s.fingerprints {
		if fp.IPAddress == ip && fp.Action == models.FingerprintActionSignup && !fp.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListFingerprintsByUser(_ context.Context, userID uint) ([]models.DeviceFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var out []models.DeviceFingerprint
	for _, fp := range s.fingerprints {
		if fp.UserID != nil && *fp.UserID == userID {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (s *memStore) CreateSignals(_ context.Context, signals []models.AbuseSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, sig := range signals {
		sig.ID = uint(len(s.signals) + 1)
		sig.CreatedAt = s.now()
		s.signals = append(s.signals, sig)
	}
	return nil
}

func (s *memStore) ListSignals(_ context.Context, filter SignalFilter) ([]models.AbuseSignal, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var out []models.AbuseSignal
	for _, sig := range s.signals {
		if filter.SignalType != "" && sig.SignalType != filter.SignalType {
			continue
		}
		if filter.UserID != 0 && (sig.UserID == nil || *sig.UserID != filter.UserID) {
			continue
		}
		if filter.IPAddress != "" && sig.IPAddress != filter.IPAddress {
			continue
		}
		out = append(out, sig)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

func (s *memStore) seed(userID uint, ip, fingerprint string, at time.Time) {
	id := userID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints = append(s.fingerprints, models.DeviceFingerprint{
		ID:          uint(len(s.fingerprints) + 1),
		UserID:      &id,
		Fingerprint: fingerprint,
		IPAddress:   ip,
		Action:      models.FingerprintActionSignup,
		CreatedAt:   at,
	})
}
