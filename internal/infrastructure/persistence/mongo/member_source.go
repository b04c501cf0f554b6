package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/circuitbreaker"
	"github.com/Xeideverme/galpao/pkg/retry"
)

// Collection names used by the CRUD backend.
const (
	CollectionMembers  = "alunos"
	CollectionCheckIns = "checkins"
	CollectionWorkouts = "treinos_realizados"
	CollectionPayments = "pagamentos"
)

// Payment statuses as stored by the CRUD backend.
const (
	statusPaid    = "pago"
	statusPending = "pendente"
	statusLate    = "atrasado"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// MemberSource implements member.Source over MongoDB. Every read runs
// through a circuit breaker; a tripped breaker or a driver failure surfaces
// as shared.ErrCollaboratorUnavailable.
type MemberSource struct {
	db      *mongo.Database
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	timeout time.Duration
}

var _ member.Source = (*MemberSource)(nil)

// NewMemberSource creates a MemberSource. breaker may be nil.
func NewMemberSource(db *mongo.Database, breaker *circuitbreaker.CircuitBreaker, queryTimeout time.Duration) *MemberSource {
	if breaker == nil {
		breaker = circuitbreaker.CollaboratorBreaker(nil)
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultConfig().QueryTimeout
	}
	return &MemberSource{
		db:      db,
		breaker: breaker,
		retrier: retry.CollaboratorRetrier(retry.WithRetryIf(isTransient)),
		timeout: queryTimeout,
	}
}

type memberDoc struct {
	ID         string        `bson:"id"`
	Name       string        `bson:"nome"`
	EnrolledAt bson.RawValue `bson:"data_matricula"`
	CreatedAt  bson.RawValue `bson:"criado_em"`
	ReferredBy string        `bson:"indicado_por"`
}

type paymentDoc struct {
	DueDate bson.RawValue `bson:"data_vencimento"`
	PaidAt  bson.RawValue `bson:"data_pagamento"`
	Status  string        `bson:"status"`
}

// read runs op under the breaker, the retrier and the query timeout.
func (s *MemberSource) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			return fn(ctx)
		})
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return shared.WrapError("member", op, shared.ErrServiceUnavailable, shared.ErrCollaboratorUnavailable.Message, errors.Join(shared.ErrCollaboratorUnavailable, err))
}

func isTransient(err error) bool {
	if circuitbreaker.IsRejection(err) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

// GetMember returns shared.ErrMemberNotFound when no record has the id.
func (s *MemberSource) GetMember(ctx context.Context, memberID string) (*member.Member, error) {
	var (
		doc   memberDoc
		found bool
	)
	err := s.read(ctx, "GetMember", func(ctx context.Context) error {
		err := s.db.Collection(CollectionMembers).FindOne(ctx, bson.M{"id": memberID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, shared.ErrMemberNotFound
	}
	return doc.toMember(), nil
}

func (d memberDoc) toMember() *member.Member {
	m := &member.Member{
		ID:         d.ID,
		Name:       d.Name,
		CreatedAt:  parseDate(d.CreatedAt),
		ReferredBy: d.ReferredBy,
	}
	if t := parseDate(d.EnrolledAt); !t.IsZero() {
		m.EnrolledAt = &t
	}
	return m
}

func (s *MemberSource) CountCheckIns(ctx context.Context, memberID string, since time.Time) (int64, error) {
	return s.count(ctx, "CountCheckIns", CollectionCheckIns, "data_hora", memberID, since)
}

func (s *MemberSource) CountWorkouts(ctx context.Context, memberID string, since time.Time) (int64, error) {
	return s.count(ctx, "CountWorkouts", CollectionWorkouts, "data", memberID, since)
}

func (s *MemberSource) count(ctx context.Context, op, collection, dateField, memberID string, since time.Time) (int64, error) {
	filter := bson.M{"aluno_id": memberID}
	if !since.IsZero() {
		filter = bson.M{"$and": bson.A{filter, sinceFilter(dateField, since)}}
	}

	var n int64
	err := s.read(ctx, op, func(ctx context.Context) error {
		var err error
		n, err = s.db.Collection(collection).CountDocuments(ctx, filter)
		return err
	})
	return n, err
}

// PaidPayments returns up to limit paid records, most recent due date first.
// Records with an unparseable due date are skipped.
func (s *MemberSource) PaidPayments(ctx context.Context, memberID string, limit int) ([]member.Payment, error) {
	if limit <= 0 {
		return []member.Payment{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "data_vencimento", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"data_vencimento": 1, "data_pagamento": 1, "status": 1})

	var docs []paymentDoc
	err := s.read(ctx, "PaidPayments", func(ctx context.Context) error {
		cur, err := s.db.Collection(CollectionPayments).Find(ctx, bson.M{"aluno_id": memberID, "status": statusPaid}, opts)
		if err != nil {
			return err
		}
		docs = docs[:0]
		return cur.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	out := make([]member.Payment, 0, len(docs))
	for _, d := range docs {
		due := parseDate(d.DueDate)
		if due.IsZero() {
			continue
		}
		p := member.Payment{DueDate: due, Status: paymentStatus(d.Status)}
		if paid := parseDate(d.PaidAt); !paid.IsZero() {
			p.PaidAt = &paid
		}
		out = append(out, p)
	}
	return out, nil
}

func paymentStatus(s string) member.PaymentStatus {
	switch s {
	case statusPaid:
		return member.PaymentPaid
	case statusLate:
		return member.PaymentLate
	default:
		return member.PaymentPending
	}
}

// CountReferrals counts members whose indicado_por is memberID, excluding a
// self-reference.
func (s *MemberSource) CountReferrals(ctx context.Context, memberID string) (int64, error) {
	filter := bson.M{"indicado_por": memberID, "id": bson.M{"$ne": memberID}}

	var n int64
	err := s.read(ctx, "CountReferrals", func(ctx context.Context) error {
		var err error
		n, err = s.db.Collection(CollectionMembers).CountDocuments(ctx, filter)
		return err
	})
	return n, err
}

// DisplayNames resolves names in one query.
func (s *MemberSource) DisplayNames(ctx context.Context, memberIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(memberIDs))
	if len(memberIDs) == 0 {
		return names, nil
	}
	opts := options.Find().SetProjection(bson.M{"id": 1, "nome": 1})

	err := s.read(ctx, "DisplayNames", func(ctx context.Context) error {
		cur, err := s.db.Collection(CollectionMembers).Find(ctx, bson.M{"id": bson.M{"$in": memberIDs}}, opts)
		if err != nil {
			return err
		}
		var docs []memberDoc
		if err := cur.All(ctx, &docs); err != nil {
			return err
		}
		for _, d := range docs {
			names[d.ID] = d.Name
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *MemberSource) Ping(ctx context.Context) error {
	return s.read(ctx, "Ping", func(ctx context.Context) error {
		return s.db.Client().Ping(ctx, nil)
	})
}
