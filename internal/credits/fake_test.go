package credits

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/database"
)

// memState is the full ledger state of memRepo. It is copied for every
// transaction and swapped in on commit.
type memState struct {
	accounts     map[uuid.UUID]Account
	entries      []LedgerEntry
	usages       []Usage
	transactions []Transaction
	bonuses      []DailyBonus
}

func (s memState) clone() memState {
	return memState{
		accounts:     maps.Clone(s.accounts),
		entries:      slices.Clone(s.entries),
		usages:       slices.Clone(s.usages),
		transactions: slices.Clone(s.transactions),
		bonuses:      slices.Clone(s.bonuses),
	}
}

// memRepo is an in-memory Repository. Transactions are serialized, which
// is what the row locks give the Postgres implementation per user.
type memRepo struct {
	mu    sync.Mutex
	state memState

	// txErr, when set, fails the next transaction after fn succeeds.
	txErr error
}

func newMemRepo() *memRepo {
	return &memRepo{state: memState{accounts: map[uuid.UUID]Account{}}}
}

func (m *memRepo) InTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &memStore{s: m.state.clone()}
	if err := fn(st); err != nil {
		return err
	}
	if m.txErr != nil {
		err := m.txErr
		m.txErr = nil
		return err
	}
	m.state = st.s
	return nil
}

func (m *memRepo) GetAccount(_ context.Context, userID uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memRepo) ListLedger(_ context.Context, userID uuid.UUID, p ListParams) ([]LedgerEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.state.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	slices.Reverse(out)
	return page(out, p), int64(len(out)), nil
}

func (m *memRepo) ListTransactions(_ context.Context, userID uuid.UUID, p ListParams) ([]Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.state.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	slices.Reverse(out)
	return page(out, p), int64(len(out)), nil
}

func (m *memRepo) ListUsage(_ context.Context, userID uuid.UUID, p ListParams) ([]Usage, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Usage
	for _, u := range m.state.usages {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	slices.Reverse(out)
	return page(out, p), int64(len(out)), nil
}

func (m *memRepo) UsersWithLapsedEntries(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, e := range m.state.entries {
		if lapsed(e, now) && !seen[e.UserID] {
			seen[e.UserID] = true
			out = append(out, e.UserID)
		}
	}
	return out, nil
}

// snapshot returns a copy of the committed state for assertions.
func (m *memRepo) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func page[T any](items []T, p ListParams) []T {
	if p.Offset >= len(items) {
		return nil
	}
	end := len(items)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return items[p.Offset:end]
}

func lapsed(e LedgerEntry, now time.Time) bool {
	return !e.IsExpired && e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

type memStore struct {
	s memState
}

// DB is nil; callers running inside the fake ledger ignore it.
func (st *memStore) DB() database.DBTX { return nil }

func (st *memStore) LockAccount(_ context.Context, userID uuid.UUID) (*Account, error) {
	a, ok := st.s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (st *memStore) CreateAccount(_ context.Context, a *Account) error {
	if _, ok := st.s.accounts[a.UserID]; !ok {
		st.s.accounts[a.UserID] = *a
	}
	return nil
}

func (st *memStore) SaveAccount(_ context.Context, a *Account) error {
	st.s.accounts[a.UserID] = *a
	return nil
}

func (st *memStore) InsertEntry(_ context.Context, e *LedgerEntry) error {
	st.s.entries = append(st.s.entries, *e)
	return nil
}

func (st *memStore) UpdateEntry(_ context.Context, e *LedgerEntry) error {
	for i := range st.s.entries {
		if st.s.entries[i].ID == e.ID {
			st.s.entries[i].BalanceRemaining = e.BalanceRemaining
			st.s.entries[i].IsDepleted = e.IsDepleted
			st.s.entries[i].IsExpired = e.IsExpired
			st.s.entries[i].ExpiredAmount = e.ExpiredAmount
			return nil
		}
	}
	return ErrAccountNotFound
}

func (st *memStore) LiveEntries(_ context.Context, userID uuid.UUID, now time.Time) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range st.s.entries {
		if e.UserID == userID && e.Live() && (e.ExpiresAt == nil || e.ExpiresAt.After(now)) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ExpiresAt, out[j].ExpiresAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (st *memStore) LapsedEntries(_ context.Context, userID uuid.UUID, now time.Time) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range st.s.entries {
		if e.UserID == userID && lapsed(e, now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (st *memStore) InsertUsage(_ context.Context, u *Usage) error {
	st.s.usages = append(st.s.usages, *u)
	return nil
}

func (st *memStore) InsertTransaction(_ context.Context, t *Transaction) error {
	st.s.transactions = append(st.s.transactions, *t)
	return nil
}

func (st *memStore) InsertDailyBonus(_ context.Context, b *DailyBonus) error {
	for _, existing := range st.s.bonuses {
		if existing.UserID == b.UserID && existing.BonusDate.Equal(b.BonusDate) {
			return ErrBonusAlreadyClaimed
		}
	}
	st.s.bonuses = append(st.s.bonuses, *b)
	return nil
}
