package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// MemberSource is an in-memory stand-in for the CRUD backend.
type MemberSource struct {
	mu sync.RWMutex

	members  map[string]member.Member
	checkIns map[string][]time.Time
	workouts map[string][]time.Time
	payments map[string][]member.Payment

	unavailable bool
}

// NewMemberSource creates an empty source.
func NewMemberSource() *MemberSource {
	return &MemberSource{
		members:  make(map[string]member.Member),
		checkIns: make(map[string][]time.Time),
		workouts: make(map[string][]time.Time),
		payments: make(map[string][]member.Payment),
	}
}

// AddMember inserts or replaces a member record.
func (m *MemberSource) AddMember(mem member.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = mem
}

// RemoveMember deletes a member record, leaving their activity behind.
func (m *MemberSource) RemoveMember(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, id)
}

// AddCheckIn records a check-in.
func (m *MemberSource) AddCheckIn(memberID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkIns[memberID] = append(m.checkIns[memberID], at.UTC())
}

// AddWorkout records a completed workout.
func (m *MemberSource) AddWorkout(memberID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workouts[memberID] = append(m.workouts[memberID], at.UTC())
}

// AddPayment records a payment of any status.
func (m *MemberSource) AddPayment(memberID string, p member.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[memberID] = append(m.payments[memberID], p)
}

// SetUnavailable makes every read fail with ErrCollaboratorUnavailable.
func (m *MemberSource) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

func (m *MemberSource) check() error {
	if m.unavailable {
		return shared.ErrCollaboratorUnavailable
	}
	return nil
}

func (m *MemberSource) GetMember(ctx context.Context, memberID string) (*member.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	mem, ok := m.members[memberID]
	if !ok {
		return nil, shared.ErrMemberNotFound
	}
	return &mem, nil
}

func (m *MemberSource) CountCheckIns(ctx context.Context, memberID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return countSince(m.checkIns[memberID], since), nil
}

func (m *MemberSource) CountWorkouts(ctx context.Context, memberID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return countSince(m.workouts[memberID], since), nil
}

func countSince(ts []time.Time, since time.Time) int64 {
	var n int64
	for _, t := range ts {
		if since.IsZero() || !t.Before(since) {
			n++
		}
	}
	return n
}

func (m *MemberSource) PaidPayments(ctx context.Context, memberID string, limit int) ([]member.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	paid := make([]member.Payment, 0)
	for _, p := range m.payments[memberID] {
		if p.Status == member.PaymentPaid {
			paid = append(paid, p)
		}
	}
	sort.SliceStable(paid, func(i, j int) bool { return paid[i].DueDate.After(paid[j].DueDate) })
	if limit > 0 && len(paid) > limit {
		paid = paid[:limit]
	}
	return paid, nil
}

func (m *MemberSource) CountReferrals(ctx context.Context, memberID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	var n int64
	for id, mem := range m.members {
		if id != memberID && mem.ReferredBy == memberID {
			n++
		}
	}
	return n, nil
}

func (m *MemberSource) DisplayNames(ctx context.Context, memberIDs []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(memberIDs))
	for _, id := range memberIDs {
		if mem, ok := m.members[id]; ok {
			out[id] = mem.Name
		}
	}
	return out, nil
}

func (m *MemberSource) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check()
}

var _ member.Source = (*MemberSource)(nil)
