package services

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhoward/ztverify/internal/metrics"
	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/internal/syncutil"
	"github.com/rhoward/ztverify/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByUsernameFunc func(ctx context.Context, username string) (*models.User, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.User, error)
	ListFunc          func(ctx context.Context, limit, offset int) ([]*models.User, error)
	CreateFunc        func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateFunc        func(ctx context.Context, id string, user *models.User) (*models.User, error)
	DeleteFunc        func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Update(ctx context.Context, id string, user *models.User) (*models.User, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordFunc        func(ctx context.Context, attempt *models.LoginAttempt) error
	RecentForUserFunc func(ctx context.Context, username string, limit int) ([]models.LoginAttempt, error)
	RecentAllFunc     func(ctx context.Context, limit int) ([]models.LoginAttempt, error)
	StatsFunc         func(ctx context.Context) (*models.LoginStats, error)
	TopRiskyFunc      func(ctx context.Context, limit int) ([]models.RiskyUser, error)
}

func (m *MockLoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) RecentForUser(ctx context.Context, username string, limit int) ([]models.LoginAttempt, error) {
	if m.RecentForUserFunc != nil {
		return m.RecentForUserFunc(ctx, username, limit)
	}
	return []models.LoginAttempt{}, nil
}

func (m *MockLoginAttemptRepository) RecentAll(ctx context.Context, limit int) ([]models.LoginAttempt, error) {
	if m.RecentAllFunc != nil {
		return m.RecentAllFunc(ctx, limit)
	}
	return []models.LoginAttempt{}, nil
}

func (m *MockLoginAttemptRepository) Stats(ctx context.Context) (*models.LoginStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &models.LoginStats{}, nil
}

func (m *MockLoginAttemptRepository) TopRisky(ctx context.Context, limit int) ([]models.RiskyUser, error) {
	if m.TopRiskyFunc != nil {
		return m.TopRiskyFunc(ctx, limit)
	}
	return []models.RiskyUser{}, nil
}

// MockDeviceRepository implements DeviceRepository for testing
type MockDeviceRepository struct {
	IsKnownFunc         func(ctx context.Context, username, fingerprint string) (bool, error)
	RegisterOrTouchFunc func(ctx context.Context, username, fingerprint string) (*models.DeviceRecord, error)
	ListForUserFunc     func(ctx context.Context, username string) ([]models.DeviceRecord, error)
	RemoveFunc          func(ctx context.Context, username, fingerprint string) error
}

func (m *MockDeviceRepository) IsKnown(ctx context.Context, username, fingerprint string) (bool, error) {
	if m.IsKnownFunc != nil {
		return m.IsKnownFunc(ctx, username, fingerprint)
	}
	return false, nil
}

func (m *MockDeviceRepository) RegisterOrTouch(ctx context.Context, username, fingerprint string) (*models.DeviceRecord, error) {
	if m.RegisterOrTouchFunc != nil {
		return m.RegisterOrTouchFunc(ctx, username, fingerprint)
	}
	now := time.Now()
	return &models.DeviceRecord{Username: username, Fingerprint: fingerprint, FirstSeen: now, LastSeen: now}, nil
}

func (m *MockDeviceRepository) ListForUser(ctx context.Context, username string) ([]models.DeviceRecord, error) {
	if m.ListForUserFunc != nil {
		return m.ListForUserFunc(ctx, username)
	}
	return []models.DeviceRecord{}, nil
}

func (m *MockDeviceRepository) Remove(ctx context.Context, username, fingerprint string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, username, fingerprint)
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendOtpEmailFunc func(ctx context.Context, email, code, username string, expiresAt time.Time) error
}

func (m *MockEmailService) SendOtpEmail(ctx context.Context, email, code, username string, expiresAt time.Time) error {
	if m.SendOtpEmailFunc != nil {
		return m.SendOtpEmailFunc(ctx, email, code, username, expiresAt)
	}
	return nil
}

// MockGeolocator implements Geolocator for testing
type MockGeolocator struct {
	LookupFunc func(ctx context.Context, ip string) (*Location, error)
}

func (m *MockGeolocator) Lookup(ctx context.Context, ip string) (*Location, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, ip)
	}
	return UnknownLocation(), nil
}

// MockChallengeManager implements ChallengeManager for testing
type MockChallengeManager struct {
	IssueFunc  func(ctx context.Context, user *models.User) (*models.OtpChallenge, error)
	VerifyFunc func(ctx context.Context, username, code string) (*models.ChallengeVerification, error)
	ResendFunc func(ctx context.Context, user *models.User) (*models.OtpChallenge, error)
}

func (m *MockChallengeManager) Issue(ctx context.Context, user *models.User) (*models.OtpChallenge, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, user)
	}
	return &models.OtpChallenge{Username: user.Username, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (m *MockChallengeManager) Verify(ctx context.Context, username, code string) (*models.ChallengeVerification, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, username, code)
	}
	return nil, models.ErrNoActiveChallenge
}

func (m *MockChallengeManager) Resend(ctx context.Context, user *models.User) (*models.OtpChallenge, error) {
	if m.ResendFunc != nil {
		return m.ResendFunc(ctx, user)
	}
	return &models.OtpChallenge{Username: user.Username, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

// InMemoryChallengeStore implements ChallengeRepository with per-username
// locking, mirroring the row-lock discipline the postgres implementation
// gets from FOR UPDATE.
type InMemoryChallengeStore struct {
	locks syncutil.ShardedMutex
	mu    sync.RWMutex
	rows  map[string][]*models.OtpChallenge // keyed by username, append order
}

func NewInMemoryChallengeStore() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{rows: make(map[string][]*models.OtpChallenge)}
}

func (s *InMemoryChallengeStore) latest(username string) *models.OtpChallenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.rows[username]
	if len(rows) == 0 {
		return nil
	}
	sorted := make([]*models.OtpChallenge, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted[0]
}

func (s *InMemoryChallengeStore) CreateIfNoneActive(_ context.Context, challenge *models.OtpChallenge, now time.Time, maxAttempts int) (*models.OtpChallenge, error) {
	unlock := s.locks.Lock(challenge.Username)
	defer unlock()

	if latest := s.latest(challenge.Username); latest != nil && latest.Active(now, maxAttempts) {
		return latest, models.ErrChallengeAlreadyActive
	}

	if challenge.ID == "" {
		challenge.ID = uuid.New().String()
	}

	s.mu.Lock()
	s.rows[challenge.Username] = append(s.rows[challenge.Username], challenge)
	s.mu.Unlock()
	return nil, nil
}

func (s *InMemoryChallengeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for username, rows := range s.rows {
		for i, c := range rows {
			if c.ID == id {
				s.rows[username] = append(rows[:i], rows[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *InMemoryChallengeStore) GetLatest(_ context.Context, username string) (*models.OtpChallenge, error) {
	if latest := s.latest(username); latest != nil {
		copied := *latest
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (s *InMemoryChallengeStore) ApplyVerification(_ context.Context, username, submittedCode string, now time.Time, maxAttempts int) (*models.ChallengeVerification, error) {
	unlock := s.locks.Lock(username)
	defer unlock()

	challenge := s.latest(username)
	if challenge == nil || challenge.Verified {
		return &models.ChallengeVerification{Outcome: models.ChallengeOutcomeNone, Challenge: challenge}, nil
	}
	if challenge.Expired(now) {
		return &models.ChallengeVerification{Outcome: models.ChallengeOutcomeExpired, Challenge: challenge}, nil
	}
	if challenge.Exhausted(maxAttempts) {
		return &models.ChallengeVerification{Outcome: models.ChallengeOutcomeExhausted, Challenge: challenge}, nil
	}

	if challenge.Code == submittedCode {
		challenge.Verified = true
		return &models.ChallengeVerification{Outcome: models.ChallengeOutcomeVerified, Challenge: challenge}, nil
	}

	challenge.Attempts++
	return &models.ChallengeVerification{
		Outcome:           models.ChallengeOutcomeMismatch,
		AttemptsRemaining: maxAttempts - challenge.Attempts,
		Challenge:         challenge,
	}, nil
}

func (s *InMemoryChallengeStore) InvalidateActive(_ context.Context, username string) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[username][:0]
	for _, c := range s.rows[username] {
		if c.Verified {
			kept = append(kept, c)
		}
	}
	s.rows[username] = kept
	return nil
}

// newTestAuditService wires an AuditService onto an isolated metrics
// registry and a quiet logger.
func newTestAuditService(attempts LoginAttemptRepository) *AuditService {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m := metrics.New(prometheus.NewRegistry())
	return NewAuditService(attempts, logger.NewAuditLogger(log), m, log)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
