package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/badge"
	"github.com/brightmind-edu/gamification/internal/domain/challenge"
	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
)

// The in-memory repositories below honor the same atomicity contracts the
// Postgres implementations do: every mutating method runs under one mutex,
// conditional flips have exactly one winner, and idempotency keys dedupe on
// insert. Engine tests run against these doubles.

// ─── xp ──────────────────────────────────────────────────────────────────────

type memXPRepo struct {
	mu           sync.Mutex
	accounts     map[int64]*xp.Account
	transactions []xp.Transaction
	usedKeys     map[string]bool
	nextID       int64
}

func newMemXPRepo() *memXPRepo {
	return &memXPRepo{
		accounts: make(map[int64]*xp.Account),
		usedKeys: make(map[string]bool),
	}
}

func (r *memXPRepo) getOrCreateLocked(studentID int64) *xp.Account {
	if a, ok := r.accounts[studentID]; ok {
		return a
	}
	a := xp.NewAccount(studentID)
	r.nextID++
	a.ID = r.nextID
	r.accounts[studentID] = a
	return a
}

func (r *memXPRepo) GetOrCreateAccount(_ context.Context, studentID int64) (*xp.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := *r.getOrCreateLocked(studentID)
	return &a, nil
}

func (r *memXPRepo) ApplyEarn(_ context.Context, req xp.EarnRequest, now time.Time) (*xp.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.getOrCreateLocked(req.StudentID)
	if req.IdempotencyKey != "" && r.usedKeys[req.IdempotencyKey] {
		copied := *account
		return &copied, false, nil
	}

	before, after := account.ApplyEarn(req.Amount, now)
	if req.IdempotencyKey != "" {
		r.usedKeys[req.IdempotencyKey] = true
	}
	r.nextID++
	r.transactions = append(r.transactions, xp.Transaction{
		ID:             r.nextID,
		StudentID:      req.StudentID,
		Amount:         req.Amount,
		Source:         req.Source,
		Description:    req.Description,
		BalanceBefore:  before,
		BalanceAfter:   after,
		IdempotencyKey: req.IdempotencyKey,
		SessionID:      req.SessionID,
		CreatedAt:      now,
	})
	copied := *account
	return &copied, true, nil
}

func (r *memXPRepo) ApplySpend(_ context.Context, req xp.SpendRequest, now time.Time) (*xp.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.getOrCreateLocked(req.StudentID)
	before, after, err := account.ApplySpend(req.Amount, now)
	if err != nil {
		return nil, shared.WrapError("ledger", "ApplySpend", err, "spend refused", nil)
	}
	r.nextID++
	r.transactions = append(r.transactions, xp.Transaction{
		ID:            r.nextID,
		StudentID:     req.StudentID,
		Amount:        -req.Amount,
		Source:        req.Source,
		Description:   req.Description,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     now,
	})
	copied := *account
	return &copied, nil
}

func (r *memXPRepo) ListTransactions(_ context.Context, studentID int64, limit, offset int) ([]xp.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rows []xp.Transaction
	for i := len(r.transactions) - 1; i >= 0; i-- {
		if r.transactions[i].StudentID == studentID {
			rows = append(rows, r.transactions[i])
		}
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *memXPRepo) ResetWeeklyXP(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.accounts {
		if a.WeeklyXP != 0 {
			a.WeeklyXP = 0
			n++
		}
	}
	return n, nil
}

func (r *memXPRepo) ResetMonthlyXP(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.accounts {
		if a.MonthlyXP != 0 {
			a.MonthlyXP = 0
			n++
		}
	}
	return n, nil
}

func (r *memXPRepo) transactionsFor(studentID int64) []xp.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []xp.Transaction
	for _, tx := range r.transactions {
		if tx.StudentID == studentID {
			rows = append(rows, tx)
		}
	}
	return rows
}

// ─── activity ────────────────────────────────────────────────────────────────

type memActivityRepo struct {
	mu       sync.Mutex
	attempts map[string]activity.ProblemAttempt
	stats    map[int64]activity.Stats
	minutes  map[int64]map[string]int
	scopes   map[int64]activity.ScopeRef
}

func newMemActivityRepo() *memActivityRepo {
	return &memActivityRepo{
		attempts: make(map[string]activity.ProblemAttempt),
		stats:    make(map[int64]activity.Stats),
		minutes:  make(map[int64]map[string]int),
		scopes:   make(map[int64]activity.ScopeRef),
	}
}

func (r *memActivityRepo) RecordAttempt(_ context.Context, attempt activity.ProblemAttempt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.attempts[attempt.AttemptID]; dup {
		return false, nil
	}
	r.attempts[attempt.AttemptID] = attempt

	s := r.stats[attempt.StudentID]
	s.StudentID = attempt.StudentID
	s.ProblemsAttempted++
	if attempt.IsCorrect {
		s.ProblemsSolved++
	}
	if attempt.IsPerfect() {
		s.PerfectSolves++
	}
	s.LastActivityAt = attempt.OccurredAt
	r.stats[attempt.StudentID] = s
	return true, nil
}

func (r *memActivityRepo) AddMinutes(_ context.Context, studentID int64, date time.Time, minutes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := date.UTC().Format("2006-01-02")
	if r.minutes[studentID] == nil {
		r.minutes[studentID] = make(map[string]int)
	}
	r.minutes[studentID][day] += minutes

	s := r.stats[studentID]
	s.StudentID = studentID
	s.TotalMinutes += minutes
	s.LastActivityAt = date
	r.stats[studentID] = s
	return nil
}

func (r *memActivityRepo) SetStreak(_ context.Context, studentID int64, currentStreakDays int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats[studentID]
	s.StudentID = studentID
	s.CurrentStreakDays = currentStreakDays
	if currentStreakDays > s.LongestStreakDays {
		s.LongestStreakDays = currentStreakDays
	}
	s.LastActivityAt = at
	r.stats[studentID] = s
	return nil
}

func (r *memActivityRepo) GetStats(_ context.Context, studentID int64) (activity.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[studentID]
	s.StudentID = studentID
	return s, nil
}

func (r *memActivityRepo) GetSubjectMastery(_ context.Context, studentID int64, subject string) (activity.SubjectMastery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var solved, total int
	for _, a := range r.attempts {
		if a.StudentID == studentID && a.Subject == subject {
			total++
			if a.IsCorrect {
				solved++
			}
		}
	}
	if total == 0 {
		return activity.SubjectMastery{}, shared.NewDomainError("activity", "GetSubjectMastery",
			shared.ErrNotFound, "no attempts in subject")
	}
	return activity.SubjectMastery{
		StudentID:  studentID,
		Subject:    subject,
		MasteryPct: float64(solved) / float64(total) * 100,
		Attempts:   total,
	}, nil
}

func (r *memActivityRepo) AccuracyInWindow(_ context.Context, studentID int64, from, to time.Time) (float64, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var solved, total int
	for _, a := range r.attempts {
		if a.StudentID != studentID {
			continue
		}
		if a.OccurredAt.Before(from) || !a.OccurredAt.Before(to) {
			continue
		}
		total++
		if a.IsCorrect {
			solved++
		}
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(solved) / float64(total) * 100, total, nil
}

func (r *memActivityRepo) UpsertScope(_ context.Context, ref activity.ScopeRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[ref.StudentID] = ref
	return nil
}

func (r *memActivityRepo) GetScope(_ context.Context, studentID int64) (activity.ScopeRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.scopes[studentID]
	if !ok {
		return activity.ScopeRef{}, shared.NewDomainError("activity", "GetScope",
			shared.ErrNotFound, "student has no scope")
	}
	return ref, nil
}

func (r *memActivityRepo) ListClassIDs(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, ref := range r.scopes {
		if ref.ClassID != 0 && !seen[ref.ClassID] {
			seen[ref.ClassID] = true
			ids = append(ids, ref.ClassID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ─── badge ───────────────────────────────────────────────────────────────────

type studentBadgeKey struct {
	studentID, badgeID int64
}

type memBadgeRepo struct {
	mu     sync.Mutex
	defs   map[int64]badge.Definition
	rows   map[studentBadgeKey]*badge.StudentBadge
	nextID int64
}

func newMemBadgeRepo() *memBadgeRepo {
	return &memBadgeRepo{
		defs: make(map[int64]badge.Definition),
		rows: make(map[studentBadgeKey]*badge.StudentBadge),
	}
}

func (r *memBadgeRepo) addDefinition(d badge.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.ID] = d
}

func (r *memBadgeRepo) GetDefinition(_ context.Context, badgeID int64) (*badge.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[badgeID]
	if !ok {
		return nil, shared.NewDomainError("badge", "GetDefinition", shared.ErrNotFound, "unknown badge")
	}
	return &d, nil
}

func (r *memBadgeRepo) ListDefinitions(_ context.Context, f badge.DefinitionFilter) ([]badge.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []badge.Definition
	for _, d := range r.defs {
		if f.Role != "" && !d.AppliesTo(f.Role, f.GradeLevel) {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.Subject != "" && d.Subject != "" && d.Subject != f.Subject {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memBadgeRepo) ListStudentBadges(_ context.Context, studentID int64, includeProgress bool) ([]badge.StudentBadge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []badge.StudentBadge
	for key, row := range r.rows {
		if key.studentID != studentID {
			continue
		}
		if !includeProgress && !row.IsEarned {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

func (r *memBadgeRepo) ListEarnedBadgeIDs(_ context.Context, studentID int64) (map[int64]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	earned := make(map[int64]bool)
	for key, row := range r.rows {
		if key.studentID == studentID && row.IsEarned {
			earned[key.badgeID] = true
		}
	}
	return earned, nil
}

func (r *memBadgeRepo) MarkEarned(_ context.Context, studentID, badgeID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := studentBadgeKey{studentID, badgeID}
	row, ok := r.rows[key]
	if !ok {
		r.nextID++
		row = &badge.StudentBadge{ID: r.nextID, StudentID: studentID, BadgeID: badgeID}
		r.rows[key] = row
	}
	if row.IsEarned {
		return false, nil
	}
	row.IsEarned = true
	row.Progress = 100
	earnedAt := at
	row.EarnedAt = &earnedAt
	row.UpdatedAt = at
	return true, nil
}

func (r *memBadgeRepo) UpsertProgress(_ context.Context, studentID, badgeID int64, progress float64, at time.Time) (*badge.StudentBadge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := studentBadgeKey{studentID, badgeID}
	row, ok := r.rows[key]
	if !ok {
		r.nextID++
		row = &badge.StudentBadge{ID: r.nextID, StudentID: studentID, BadgeID: badgeID}
		r.rows[key] = row
	}
	if !row.IsEarned {
		row.Progress = progress
		row.UpdatedAt = at
	}
	copied := *row
	return &copied, nil
}

func (r *memBadgeRepo) CountEarnedWeighted(_ context.Context, studentIDs []int64) (map[int64]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[int64]bool, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = true
	}
	counts := make(map[int64]int)
	for key, row := range r.rows {
		if !row.IsEarned || (len(wanted) > 0 && !wanted[key.studentID]) {
			continue
		}
		counts[key.studentID] += r.defs[key.badgeID].Tier.Weight()
	}
	return counts, nil
}

// ─── challenge ───────────────────────────────────────────────────────────────

type participationKey struct {
	challengeID, studentID int64
}

type memChallengeRepo struct {
	mu             sync.Mutex
	challenges     map[int64]*challenge.Challenge
	participations map[participationKey]*challenge.Participation
	nextID         int64
}

func newMemChallengeRepo() *memChallengeRepo {
	return &memChallengeRepo{
		challenges:     make(map[int64]*challenge.Challenge),
		participations: make(map[participationKey]*challenge.Participation),
	}
}

func (r *memChallengeRepo) Create(_ context.Context, c *challenge.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	c.CreatedAt = time.Now().UTC()
	copied := *c
	r.challenges[c.ID] = &copied
	return nil
}

func (r *memChallengeRepo) Get(_ context.Context, challengeID int64) (*challenge.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[challengeID]
	if !ok {
		return nil, shared.NewDomainError("challenge", "Get", shared.ErrNotFound, "unknown challenge")
	}
	copied := *c
	return &copied, nil
}

func (r *memChallengeRepo) List(_ context.Context, f challenge.Filter) ([]challenge.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []challenge.Challenge
	for _, c := range r.challenges {
		if f.Metric != "" && c.Metric != f.Metric {
			continue
		}
		if f.ScopeKind != "" && c.ScopeKind != f.ScopeKind {
			continue
		}
		if f.ScopeID != 0 && c.ScopeID != f.ScopeID {
			continue
		}
		if f.ActiveOnly && !c.IsActive {
			continue
		}
		if f.OpenAt != nil && !c.IsOpenAt(*f.OpenAt) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memChallengeRepo) TryJoin(_ context.Context, challengeID, studentID int64, baseline float64, now time.Time) (challenge.JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.challenges[challengeID]
	if !ok {
		return challenge.JoinResult{}, shared.NewDomainError("challenge", "TryJoin", shared.ErrNotFound, "unknown challenge")
	}
	_, alreadyJoined := r.participations[participationKey{challengeID, studentID}]
	if reason := c.Joinable(now, alreadyJoined); reason != challenge.ReasonNone {
		return challenge.JoinResult{Joined: false, Reason: reason}, nil
	}

	r.nextID++
	p := &challenge.Participation{
		ID:               r.nextID,
		ChallengeID:      challengeID,
		StudentID:        studentID,
		StartingBaseline: baseline,
		JoinedAt:         now,
	}
	r.participations[participationKey{challengeID, studentID}] = p
	c.Participants++
	copied := *p
	return challenge.JoinResult{Joined: true, Participation: &copied}, nil
}

func (r *memChallengeRepo) GetParticipation(_ context.Context, challengeID, studentID int64) (*challenge.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participations[participationKey{challengeID, studentID}]
	if !ok {
		return nil, shared.NewDomainError("challenge", "GetParticipation", shared.ErrNotFound, "not joined")
	}
	copied := *p
	return &copied, nil
}

func (r *memChallengeRepo) ListActiveParticipations(_ context.Context, studentID int64, now time.Time) ([]challenge.ParticipationView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []challenge.ParticipationView
	for key, p := range r.participations {
		if key.studentID != studentID || p.IsCompleted {
			continue
		}
		c := r.challenges[key.challengeID]
		if !c.IsActive || !c.IsOpenAt(now) {
			continue
		}
		out = append(out, challenge.ParticipationView{Participation: *p, Challenge: *c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Challenge.ID < out[j].Challenge.ID })
	return out, nil
}

func (r *memChallengeRepo) ListStudentParticipations(_ context.Context, studentID int64) ([]challenge.ParticipationView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []challenge.ParticipationView
	for key, p := range r.participations {
		if key.studentID != studentID {
			continue
		}
		out = append(out, challenge.ParticipationView{Participation: *p, Challenge: *r.challenges[key.challengeID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Challenge.ID < out[j].Challenge.ID })
	return out, nil
}

func (r *memChallengeRepo) Advance(_ context.Context, req challenge.AdvanceRequest, now time.Time) (challenge.AdvanceResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participations[participationKey{req.ChallengeID, req.StudentID}]
	if !ok {
		return challenge.AdvanceResult{}, shared.NewDomainError("challenge", "Advance", shared.ErrNotFound, "not joined")
	}
	c := r.challenges[req.ChallengeID]

	newValue := req.Value
	if req.Mode == challenge.AdvanceIncrement {
		newValue = p.CurrentValue + req.Value
	}
	changed, crossed := p.Advance(newValue, c.TargetValue, req.Note, now)
	copied := *p
	return challenge.AdvanceResult{Changed: changed, Crossed: crossed, Participation: &copied}, nil
}

func (r *memChallengeRepo) ClaimReward(_ context.Context, challengeID, studentID int64, kind challenge.RewardKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participations[participationKey{challengeID, studentID}]
	if !ok {
		return false, shared.NewDomainError("challenge", "ClaimReward", shared.ErrNotFound, "not joined")
	}
	if !p.IsCompleted {
		return false, nil
	}
	switch kind {
	case challenge.RewardXP:
		if p.XPAwarded {
			return false, nil
		}
		p.XPAwarded = true
	case challenge.RewardBadge:
		if p.BadgeAwarded {
			return false, nil
		}
		p.BadgeAwarded = true
	default:
		return false, nil
	}
	return true, nil
}

func (r *memChallengeRepo) CompletionsWeighted(_ context.Context, from, to time.Time) (map[int64]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[int64]int)
	for key, p := range r.participations {
		if !p.IsCompleted || p.CompletedAt == nil {
			continue
		}
		at := *p.CompletedAt
		if at.Before(from) || !at.Before(to) {
			continue
		}
		counts[key.studentID] += r.challenges[key.challengeID].Tier.Weight()
	}
	return counts, nil
}

// ─── leaderboard ─────────────────────────────────────────────────────────────

type memBoardRepo struct {
	mu      sync.Mutex
	boards  map[int64]*leaderboard.Leaderboard
	entries map[int64][]leaderboard.Entry
	nextID  int64
}

func newMemBoardRepo() *memBoardRepo {
	return &memBoardRepo{
		boards:  make(map[int64]*leaderboard.Leaderboard),
		entries: make(map[int64][]leaderboard.Entry),
	}
}

func (r *memBoardRepo) Get(_ context.Context, leaderboardID int64) (*leaderboard.Leaderboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.boards[leaderboardID]
	if !ok {
		return nil, shared.NewDomainError("leaderboard", "Get", shared.ErrNotFound, "unknown leaderboard")
	}
	copied := *l
	return &copied, nil
}

func (r *memBoardRepo) GetCurrent(_ context.Context, t leaderboard.Type, scope leaderboard.Scope, scopeID int64) (*leaderboard.Leaderboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.boards {
		if l.IsCurrent && l.Type == t && l.Scope == scope && l.ScopeID == scopeID {
			copied := *l
			return &copied, nil
		}
	}
	return nil, shared.NewDomainError("leaderboard", "GetCurrent", shared.ErrNotFound, "no current leaderboard")
}

func (r *memBoardRepo) ListCurrent(context.Context) ([]leaderboard.Leaderboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []leaderboard.Leaderboard
	for _, l := range r.boards {
		if l.IsCurrent {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memBoardRepo) InsertAsCurrent(_ context.Context, l *leaderboard.Leaderboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.boards {
		if existing.IsCurrent && existing.Key() == l.Key() {
			existing.IsCurrent = false
		}
	}
	r.nextID++
	l.ID = r.nextID
	l.IsCurrent = true
	l.CreatedAt = time.Now().UTC()
	copied := *l
	r.boards[l.ID] = &copied
	return nil
}

func (r *memBoardRepo) ReplaceEntries(_ context.Context, leaderboardID int64, entries []leaderboard.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]leaderboard.Entry, len(entries))
	copy(stored, entries)
	for i := range stored {
		r.nextID++
		stored[i].ID = r.nextID
	}
	r.entries[leaderboardID] = stored
	return nil
}

func (r *memBoardRepo) ListEntries(_ context.Context, leaderboardID int64, limit, offset int) ([]leaderboard.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.entries[leaderboardID]
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]leaderboard.Entry, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *memBoardRepo) AllEntries(_ context.Context, leaderboardID int64) ([]leaderboard.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.entries[leaderboardID]
	out := make([]leaderboard.Entry, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *memBoardRepo) PreviousEntries(_ context.Context, l leaderboard.Leaderboard) ([]leaderboard.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *leaderboard.Leaderboard
	for _, candidate := range r.boards {
		if candidate.ID == l.ID || candidate.Key() != l.Key() {
			continue
		}
		if !candidate.Period.Start.Before(l.Period.Start) {
			continue
		}
		if best == nil || candidate.Period.Start.After(best.Period.Start) {
			best = candidate
		}
	}
	if best == nil {
		return nil, nil
	}
	rows := r.entries[best.ID]
	out := make([]leaderboard.Entry, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *memBoardRepo) ListStudentPositions(_ context.Context, studentID int64) ([]leaderboard.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []leaderboard.Position
	for id, rows := range r.entries {
		l := r.boards[id]
		if !l.IsCurrent {
			continue
		}
		for _, e := range rows {
			if e.StudentID == studentID {
				out = append(out, leaderboard.Position{Leaderboard: *l, Entry: e})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Leaderboard.ID < out[j].Leaderboard.ID })
	return out, nil
}

func (r *memBoardRepo) Archive(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, l := range r.boards {
		if l.IsCurrent && l.Period.EndedBefore(cutoff) {
			l.IsCurrent = false
			n++
		}
	}
	return n, nil
}

// memStatsSource serves canned aggregation results.
type memStatsSource struct {
	weeklyXP    []leaderboard.Score
	accuracy    []leaderboard.Score
	completions []leaderboard.Score
	streaks     []leaderboard.Score
	badges      []leaderboard.Score
}

func (s *memStatsSource) WeeklyXPTotals(context.Context, leaderboard.ScopeFilter) ([]leaderboard.Score, error) {
	return s.weeklyXP, nil
}

func (s *memStatsSource) AccuracyRates(context.Context, leaderboard.ScopeFilter, leaderboard.Period, int) ([]leaderboard.Score, error) {
	return s.accuracy, nil
}

func (s *memStatsSource) ChallengeCompletions(context.Context, leaderboard.ScopeFilter, leaderboard.Period) ([]leaderboard.Score, error) {
	return s.completions, nil
}

func (s *memStatsSource) StreakLengths(context.Context, leaderboard.ScopeFilter) ([]leaderboard.Score, error) {
	return s.streaks, nil
}

func (s *memStatsSource) BadgeCounts(context.Context, leaderboard.ScopeFilter) ([]leaderboard.Score, error) {
	return s.badges, nil
}

// memCache counts hits and misses for read-through assertions.
type memCache struct {
	mu     sync.Mutex
	pages  map[string][]leaderboard.Entry
	hits   int
	misses int
	sets   int
}

func newMemCache() *memCache {
	return &memCache{pages: make(map[string][]leaderboard.Entry)}
}

func cacheKey(leaderboardID int64, limit, offset int) string {
	return fmt.Sprintf("%d/%d/%d", leaderboardID, limit, offset)
}

func (c *memCache) GetPage(_ context.Context, leaderboardID int64, limit, offset int) ([]leaderboard.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.pages[cacheKey(leaderboardID, limit, offset)]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	c.hits++
	return entries, true, nil
}

func (c *memCache) SetPage(_ context.Context, leaderboardID int64, limit, offset int, entries []leaderboard.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.pages[cacheKey(leaderboardID, limit, offset)] = entries
	return nil
}

func (c *memCache) Invalidate(_ context.Context, leaderboardID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strconv.FormatInt(leaderboardID, 10) + "/"
	for key := range c.pages {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.pages, key)
		}
	}
	return nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}
