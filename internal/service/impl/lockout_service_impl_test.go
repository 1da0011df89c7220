package impl

import (
	"context"
	"sync"
	"testing"
	"time"

	"edauth/internal/domain"

	"github.com/google/uuid"
)

type memoryAttemptStore struct {
	mu   sync.Mutex
	rows []*domain.LoginAttempt
}

func (m *memoryAttemptStore) Create(ctx context.Context, a *domain.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *a
	m.rows = append(m.rows, &copy)
	return nil
}

func (m *memoryAttemptStore) ListFailedSince(ctx context.Context, email string, since time.Time) ([]*domain.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LoginAttempt
	for _, a := range m.rows {
		if a.Email == email && !a.Success && a.AttemptedAt.After(since) {
			copy := *a
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (m *memoryAttemptStore) CountFailedSince(ctx context.Context, email string, since time.Time) (int64, error) {
	rows, err := m.ListFailedSince(ctx, email, since)
	return int64(len(rows)), err
}

func (m *memoryAttemptStore) ListRecent(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LoginAttempt
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].Email == email {
			copy := *m.rows[i]
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (m *memoryAttemptStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newLockoutAt(attempts *memoryAttemptStore, at time.Time) *LockoutServiceImpl {
	return &LockoutServiceImpl{attempts: attempts, now: func() time.Time { return at }}
}

func seedFailures(t *testing.T, attempts *memoryAttemptStore, email string, times []time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, at := range times {
		svc := newLockoutAt(attempts, at)
		if err := svc.Record(ctx, email, "10.0.0.1", false, domain.FailureInvalidPassword, nil); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
}

func TestLockoutBelowThreshold(t *testing.T) {
	attempts := &memoryAttemptStore{}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedFailures(t, attempts, "dana@example.com", []time.Time{
		base, base.Add(time.Minute), base.Add(2 * time.Minute), base.Add(3 * time.Minute),
	})

	svc := newLockoutAt(attempts, base.Add(4*time.Minute))
	ctx := context.Background()

	locked, err := svc.IsLocked(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatalf("locked after 4 failures, want unlocked until the 5th")
	}
	remaining, err := svc.RemainingAttempts(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("RemainingAttempts: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
}

func TestLockoutAtThreshold(t *testing.T) {
	attempts := &memoryAttemptStore{}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < MaxFailedAttempts; i++ {
		times = append(times, base.Add(time.Duration(i)*time.Minute))
	}
	seedFailures(t, attempts, "dana@example.com", times)

	svc := newLockoutAt(attempts, base.Add(5*time.Minute))
	ctx := context.Background()

	locked, err := svc.IsLocked(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatalf("not locked after %d failures", MaxFailedAttempts)
	}
	remaining, err := svc.RemainingAttempts(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("RemainingAttempts: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}

	expiry, err := svc.LockoutExpiry(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("LockoutExpiry: %v", err)
	}
	if expiry == nil {
		t.Fatalf("expected an expiry while locked")
	}
	want := base.Add(LockoutDuration)
	if !expiry.Equal(want) {
		t.Fatalf("expiry = %v, want earliest failure + duration = %v", expiry, want)
	}
}

func TestLockoutSelfClears(t *testing.T) {
	attempts := &memoryAttemptStore{}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < MaxFailedAttempts; i++ {
		times = append(times, base.Add(time.Duration(i)*time.Second))
	}
	seedFailures(t, attempts, "dana@example.com", times)

	ctx := context.Background()

	// Still inside the window: locked.
	if locked, _ := newLockoutAt(attempts, base.Add(10*time.Minute)).IsLocked(ctx, "dana@example.com"); !locked {
		t.Fatalf("expected locked inside the window")
	}

	// Past the window: unlocked, without any write.
	later := newLockoutAt(attempts, base.Add(LockoutDuration+time.Minute))
	locked, err := later.IsLocked(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatalf("lockout did not self-clear after the window passed")
	}
	remaining, err := later.RemainingAttempts(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("RemainingAttempts: %v", err)
	}
	if remaining != MaxFailedAttempts {
		t.Fatalf("remaining = %d, want full budget after failures aged out", remaining)
	}
	expiry, err := later.LockoutExpiry(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("LockoutExpiry: %v", err)
	}
	if expiry != nil {
		t.Fatalf("expiry = %v, want nil when not locked", expiry)
	}
}

func TestClearFailedAttemptsLeavesLedgerIntact(t *testing.T) {
	attempts := &memoryAttemptStore{}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedFailures(t, attempts, "dana@example.com", []time.Time{base, base.Add(time.Minute)})

	svc := newLockoutAt(attempts, base.Add(2*time.Minute))
	ctx := context.Background()

	before := attempts.count()
	if err := svc.ClearFailedAttempts(ctx, "dana@example.com"); err != nil {
		t.Fatalf("ClearFailedAttempts: %v", err)
	}
	if attempts.count() != before {
		t.Fatalf("ledger was rewritten: %d rows, want %d", attempts.count(), before)
	}
	remaining, err := svc.RemainingAttempts(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("RemainingAttempts: %v", err)
	}
	if remaining != MaxFailedAttempts-2 {
		t.Fatalf("remaining = %d, want %d: failures must still count", remaining, MaxFailedAttempts-2)
	}
}

func TestRecordWritesFullRow(t *testing.T) {
	attempts := &memoryAttemptStore{}
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newLockoutAt(attempts, at)

	userID := uuid.New()
	if err := svc.Record(context.Background(), "erin@example.com", "192.0.2.7", false, domain.FailureAccountSuspended, &userID); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := attempts.ListRecent(context.Background(), "erin@example.com", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	a := rows[0]
	if a.ID == uuid.Nil {
		t.Fatalf("attempt id not set")
	}
	if a.Success || a.FailureReason != domain.FailureAccountSuspended {
		t.Fatalf("unexpected outcome: %+v", a)
	}
	if a.IP != "192.0.2.7" || a.UserID == nil || *a.UserID != userID {
		t.Fatalf("attempt row incomplete: %+v", a)
	}
	if !a.AttemptedAt.Equal(at) {
		t.Fatalf("attempted_at = %v, want %v", a.AttemptedAt, at)
	}
}

func TestRecentAttemptsOrderAndLimit(t *testing.T) {
	attempts := &memoryAttemptStore{}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		svc := newLockoutAt(attempts, base.Add(time.Duration(i)*time.Minute))
		success := i == 5
		reason := domain.FailureInvalidPassword
		if success {
			reason = ""
		}
		if err := svc.Record(ctx, "frank@example.com", "10.0.0.1", success, reason, nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	svc := newLockoutAt(attempts, base.Add(10*time.Minute))
	rows, err := svc.RecentAttempts(ctx, "frank@example.com", 3)
	if err != nil {
		t.Fatalf("RecentAttempts: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if !rows[0].Success {
		t.Fatalf("newest attempt first, want the successful one: %+v", rows[0])
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].AttemptedAt.After(rows[i-1].AttemptedAt) {
			t.Fatalf("rows not newest-first at %d", i)
		}
	}
}
