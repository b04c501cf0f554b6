// Package memory implements every engine repository in process memory. Each
// method holds the store mutex for its whole body, which gives the same
// per-operation atomicity the Postgres store gets from single statements.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// Store holds the catalog, ledgers, unlocks and processed event ids.
type Store struct {
	mu sync.Mutex

	defs      map[string]*achievement.Definition
	unlocks   map[string]map[string]*achievement.Unlock
	ledgers   map[string]*progress.MemberProgress
	processed map[string]bool // event id -> streak step ran

	historySize int
	now         shared.Clock
	faults      map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithHistorySize sets the ring size of ledger history.
func WithHistorySize(n int) Option {
	return func(s *Store) { s.historySize = n }
}

// WithClock overrides the timestamp source for created rows.
func WithClock(c shared.Clock) Option {
	return func(s *Store) { s.now = c }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		defs:        make(map[string]*achievement.Definition),
		unlocks:     make(map[string]map[string]*achievement.Unlock),
		ledgers:     make(map[string]*progress.MemberProgress),
		processed:   make(map[string]bool),
		historySize: progress.DefaultHistorySize,
		now:         shared.SystemClock,
		faults:      make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fail makes every call to the named method return err until cleared with a
// nil err. Method names match the repository interfaces, e.g. "GrantAchievement".
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *Store) fault(method string) error {
	return s.faults[method]
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ═══════════════════════════════════════════════════════════════════════════
// Catalog
// ═══════════════════════════════════════════════════════════════════════════

// Catalog exposes the store as achievement.Repository.
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s} }

// CatalogRepo implements achievement.Repository.
type CatalogRepo struct{ s *Store }

func (r *CatalogRepo) Create(ctx context.Context, def *achievement.Definition) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Create"); err != nil {
		return err
	}
	if _, ok := s.defs[def.ID]; ok {
		return shared.ErrAchievementCodeTaken
	}
	for _, d := range s.defs {
		if d.Code == def.Code {
			return shared.ErrAchievementCodeTaken
		}
	}
	s.defs[def.ID] = def.Clone()
	return nil
}

func (r *CatalogRepo) Update(ctx context.Context, def *achievement.Definition) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Update"); err != nil {
		return err
	}
	stored, ok := s.defs[def.ID]
	if !ok {
		return shared.ErrAchievementNotFound
	}
	if stored.Version != def.Version-1 {
		return shared.ErrCatalogEditConflict
	}
	for _, d := range s.defs {
		if d.ID != def.ID && d.Code == def.Code {
			return shared.ErrAchievementCodeTaken
		}
	}
	s.defs[def.ID] = def.Clone()
	return nil
}

func (r *CatalogRepo) GetByID(ctx context.Context, id string) (*achievement.Definition, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	return d.Clone(), nil
}

func (r *CatalogRepo) GetByCode(ctx context.Context, code string) (*achievement.Definition, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.Code == code {
			return d.Clone(), nil
		}
	}
	return nil, shared.ErrAchievementNotFound
}

func (r *CatalogRepo) List(ctx context.Context, f achievement.Filter) ([]*achievement.Definition, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("List"); err != nil {
		return nil, err
	}
	out := make([]*achievement.Definition, 0, len(s.defs))
	for _, d := range s.defs {
		if f.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Unlocks
// ═══════════════════════════════════════════════════════════════════════════

// Unlocks exposes the store as achievement.UnlockRepository.
func (s *Store) Unlocks() *UnlockRepo { return &UnlockRepo{s} }

// UnlockRepo implements achievement.UnlockRepository.
type UnlockRepo struct{ s *Store }

func (r *UnlockRepo) TryInsertUnique(ctx context.Context, u *achievement.Unlock) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("TryInsertUnique"); err != nil {
		return false, err
	}
	byAch, ok := s.unlocks[u.MemberID]
	if !ok {
		byAch = make(map[string]*achievement.Unlock)
		s.unlocks[u.MemberID] = byAch
	}
	if _, exists := byAch[u.AchievementID]; exists {
		return false, nil
	}
	c := *u
	byAch[u.AchievementID] = &c
	return true, nil
}

func (r *UnlockRepo) ListByMember(ctx context.Context, memberID string) ([]*achievement.Unlock, error) {
	return r.list(memberID, false), nil
}

func (r *UnlockRepo) ListUnseen(ctx context.Context, memberID string) ([]*achievement.Unlock, error) {
	return r.list(memberID, true), nil
}

func (r *UnlockRepo) list(memberID string, unseenOnly bool) []*achievement.Unlock {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*achievement.Unlock, 0)
	for _, u := range s.unlocks[memberID] {
		if unseenOnly && u.Seen {
			continue
		}
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.After(out[j].UnlockedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out
}

func (r *UnlockRepo) MarkSeen(ctx context.Context, memberID string, achievementIDs []string, at time.Time) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range achievementIDs {
		u, ok := s.unlocks[memberID][id]
		if !ok || u.Seen {
			continue
		}
		seenAt := at.UTC()
		u.Seen = true
		u.SeenAt = &seenAt
		n++
	}
	return n, nil
}

func (r *UnlockRepo) CountAll(ctx context.Context) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, byAch := range s.unlocks {
		n += int64(len(byAch))
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger
// ═══════════════════════════════════════════════════════════════════════════

// Progress exposes the store as progress.Repository.
func (s *Store) Progress() *ProgressRepo { return &ProgressRepo{s} }

// ProgressRepo implements progress.Repository.
type ProgressRepo struct{ s *Store }

func (r *ProgressRepo) Get(ctx context.Context, memberID string) (*progress.MemberProgress, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Get"); err != nil {
		return nil, err
	}
	p, ok := s.ledgers[memberID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return p.Clone(), nil
}

func (r *ProgressRepo) GetOrCreate(ctx context.Context, memberID string) (*progress.MemberProgress, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetOrCreate"); err != nil {
		return nil, err
	}
	return s.ledger(memberID).Clone(), nil
}

// ledger returns the stored ledger, creating it. Caller holds mu.
func (s *Store) ledger(memberID string) *progress.MemberProgress {
	p, ok := s.ledgers[memberID]
	if !ok {
		p = progress.New(memberID, s.now())
		s.ledgers[memberID] = p
	}
	return p
}

func (r *ProgressRepo) ApplyReward(ctx context.Context, memberID, eventID string, rw progress.Reward) (progress.Balance, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ApplyReward"); err != nil {
		return progress.Balance{}, false, err
	}
	p := s.ledger(memberID)
	if eventID != "" {
		if _, seen := s.processed[eventID]; seen {
			return balanceOf(p), false, nil
		}
		s.processed[eventID] = false
	}
	s.credit(p, rw)
	return balanceOf(p), true, nil
}

func (r *ProgressRepo) GrantAchievement(ctx context.Context, memberID string, rw progress.Reward) (progress.Balance, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GrantAchievement"); err != nil {
		return progress.Balance{}, false, err
	}
	p := s.ledger(memberID)
	if p.HasUnlocked(rw.AchievementID) {
		return balanceOf(p), false, nil
	}
	p.UnlockedIDs = append(p.UnlockedIDs, rw.AchievementID)
	p.UnlockedTotal++
	p.UnlockedThisMonth++
	s.credit(p, rw)
	return balanceOf(p), true, nil
}

func (s *Store) credit(p *progress.MemberProgress, rw progress.Reward) {
	p.TotalPoints += int64(rw.Points)
	p.PointsThisMonth += int64(rw.Points)
	p.PointsThisWeek += int64(rw.Points)
	p.CurrentXP += int64(rw.XP)
	p.History = progress.AppendHistory(p.History, rw.Entry(), s.historySize)
	p.UpdatedAt = s.now()
}

func (r *ProgressRepo) CompareAndSwapStreak(ctx context.Context, memberID, eventID string, expected int64, st progress.Streak) (progress.StreakSwap, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CompareAndSwapStreak"); err != nil {
		return progress.StreakStale, err
	}
	p, ok := s.ledgers[memberID]
	if !ok {
		return progress.StreakStale, shared.ErrProgressNotFound
	}
	if eventID != "" && s.processed[eventID] {
		return progress.StreakAlreadyApplied, nil
	}
	if p.StreakVersion != expected {
		return progress.StreakStale, nil
	}
	p.Streak = st
	if st.LastCheckIn != nil {
		t := *st.LastCheckIn
		p.Streak.LastCheckIn = &t
	}
	p.StreakVersion++
	p.TotalCheckIns++
	p.UpdatedAt = s.now()
	if eventID != "" {
		s.processed[eventID] = true
	}
	return progress.StreakSwapped, nil
}

func (r *ProgressRepo) RaiseLevel(ctx context.Context, memberID string, level int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RaiseLevel"); err != nil {
		return err
	}
	p, ok := s.ledgers[memberID]
	if !ok {
		return shared.ErrProgressNotFound
	}
	if level > p.Level {
		p.Level = level
		p.UpdatedAt = s.now()
	}
	return nil
}

func (r *ProgressRepo) RemoveUnlocked(ctx context.Context, memberID, achievementID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ledgers[memberID]
	if !ok {
		return false, nil
	}
	i := slices.Index(p.UnlockedIDs, achievementID)
	if i < 0 {
		return false, nil
	}
	p.UnlockedIDs = slices.Delete(p.UnlockedIDs, i, i+1)
	p.UnlockedTotal = max(p.UnlockedTotal-1, 0)
	p.UnlockedThisMonth = max(p.UnlockedThisMonth-1, 0)
	p.UpdatedAt = s.now()
	return true, nil
}

func (r *ProgressRepo) ListMemberIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.ledgers))
	for id := range s.ledgers {
		if strings.Compare(id, afterID) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *ProgressRepo) Participation(ctx context.Context) (progress.Participation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out progress.Participation
	for _, p := range s.ledgers {
		if p.TotalPoints > 0 {
			out.Members++
			out.TotalPoints += p.TotalPoints
		}
	}
	return out, nil
}

func balanceOf(p *progress.MemberProgress) progress.Balance {
	return progress.Balance{TotalPoints: p.TotalPoints, CurrentXP: p.CurrentXP, Level: p.Level}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard
// ═══════════════════════════════════════════════════════════════════════════

// Leaderboard exposes the store as leaderboard.Repository.
func (s *Store) Leaderboard() *LeaderboardRepo { return &LeaderboardRepo{s} }

// LeaderboardRepo implements leaderboard.Repository.
type LeaderboardRepo struct{ s *Store }

func (r *LeaderboardRepo) Standings(ctx context.Context, period leaderboard.Period, limit int) ([]leaderboard.Standing, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Standings"); err != nil {
		return nil, err
	}
	out := make([]leaderboard.Standing, 0)
	for _, p := range s.ledgers {
		var pts int64
		switch period {
		case leaderboard.PeriodThisMonth:
			pts = p.PointsThisMonth
		case leaderboard.PeriodThisWeek:
			pts = p.PointsThisWeek
		default:
			pts = p.TotalPoints
		}
		if pts <= 0 {
			continue
		}
		out = append(out, leaderboard.Standing{
			MemberID:      p.MemberID,
			Points:        pts,
			Level:         p.Level,
			UnlockedTotal: p.UnlockedTotal,
			CreatedAt:     p.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return leaderboard.Less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ achievement.Repository       = (*CatalogRepo)(nil)
	_ achievement.UnlockRepository = (*UnlockRepo)(nil)
	_ progress.Repository          = (*ProgressRepo)(nil)
	_ leaderboard.Repository       = (*LeaderboardRepo)(nil)
)
