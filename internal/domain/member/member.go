// Package member is the engine's read-only view of collaborator data owned
// by the CRUD backend: member records, check-ins, workouts, payments and
// referrals. The engine never writes through it.
package member

import (
	"context"
	"time"
)

// Member is the subset of a student record the engine needs.
type Member struct {
	ID         string
	Name       string
	EnrolledAt *time.Time
	CreatedAt  time.Time
	ReferredBy string
}

// TenureStart is the enrollment date, or the record creation date when the
// enrollment date is missing.
func (m *Member) TenureStart() time.Time {
	if m.EnrolledAt != nil && !m.EnrolledAt.IsZero() {
		return m.EnrolledAt.UTC()
	}
	return m.CreatedAt.UTC()
}

// PaymentStatus mirrors the CRUD backend's payment states.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentLate    PaymentStatus = "late"
)

// Payment is a monthly fee record.
type Payment struct {
	DueDate time.Time
	PaidAt  *time.Time
	Status  PaymentStatus
}

// OnTime reports whether the payment was paid on or before its due day.
// A paid record without a paid date counts as late.
func (p Payment) OnTime() bool {
	if p.PaidAt == nil {
		return false
	}
	paid := p.PaidAt.UTC()
	due := p.DueDate.UTC()
	py, pm, pd := paid.Date()
	dy, dm, dd := due.Date()
	if py != dy {
		return py < dy
	}
	if pm != dm {
		return pm < dm
	}
	return pd <= dd
}

// Source reads collaborator data. Implementations return
// shared.ErrMemberNotFound for unknown members and wrap transport failures in
// shared.ErrCollaboratorUnavailable.
type Source interface {
	GetMember(ctx context.Context, memberID string) (*Member, error)
	// CountCheckIns counts check-ins at or after since; zero since counts all.
	CountCheckIns(ctx context.Context, memberID string, since time.Time) (int64, error)
	// CountWorkouts counts workout sessions at or after since; zero since counts all.
	CountWorkouts(ctx context.Context, memberID string, since time.Time) (int64, error)
	// PaidPayments returns up to limit paid payments, most recent due date first.
	PaidPayments(ctx context.Context, memberID string, limit int) ([]Payment, error)
	// CountReferrals counts other members referred by memberID.
	CountReferrals(ctx context.Context, memberID string) (int64, error)
	// DisplayNames resolves names for the given ids. Missing members are
	// absent from the result.
	DisplayNames(ctx context.Context, memberIDs []string) (map[string]string, error)
	Ping(ctx context.Context) error
}
