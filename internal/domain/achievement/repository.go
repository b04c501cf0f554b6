package achievement

import (
	"context"
	"time"
)

// Filter narrows catalog listings. Zero values mean "any".
type Filter struct {
	Category    Category
	Rarity      Rarity
	VisibleOnly bool
	ActiveOnly  bool
}

// Matches applies the filter in memory.
func (f Filter) Matches(d *Definition) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Rarity != "" && d.Rarity != f.Rarity {
		return false
	}
	if f.VisibleOnly && !d.Visible {
		return false
	}
	if f.ActiveOnly && !d.Active {
		return false
	}
	return true
}

// Repository stores catalog definitions. List is ordered by DisplayOrder then
// name.
type Repository interface {
	Create(ctx context.Context, def *Definition) error
	// Update stores def only if the stored version is def.Version-1;
	// otherwise it returns shared.ErrCatalogEditConflict.
	Update(ctx context.Context, def *Definition) error
	GetByID(ctx context.Context, id string) (*Definition, error)
	GetByCode(ctx context.Context, code string) (*Definition, error)
	List(ctx context.Context, f Filter) ([]*Definition, error)
}

// UnlockRepository stores unlock records.
type UnlockRepository interface {
	// TryInsertUnique inserts u unless (member, achievement) already exists.
	// inserted is false on conflict; that is not an error.
	TryInsertUnique(ctx context.Context, u *Unlock) (inserted bool, err error)
	// ListByMember is ordered by UnlockedAt descending.
	ListByMember(ctx context.Context, memberID string) ([]*Unlock, error)
	ListUnseen(ctx context.Context, memberID string) ([]*Unlock, error)
	// MarkSeen flags the given achievements; ids without a record are ignored.
	MarkSeen(ctx context.Context, memberID string, achievementIDs []string, at time.Time) (int, error)
	CountAll(ctx context.Context) (int64, error)
}
