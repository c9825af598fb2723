//go:build integration

package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/learnhub/internal/database"
	"github.com/learnhub/learnhub/internal/testutil"
)

type pgFixture struct {
	pool  *pgxpool.Pool
	repo  Repository
	clock *fakeClock
	svc   *Service
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	f := &pgFixture{
		pool:  testutil.NewPostgres(t),
		clock: &fakeClock{now: time.Now().UTC().Truncate(time.Microsecond)},
	}
	f.repo = NewRepository(f.pool)
	f.svc = NewService(f.repo, testConfig(), nil, nil, ServiceOptions{Now: f.clock.Now})
	return f
}

func (f *pgFixture) grant(t *testing.T, req GrantRequest) {
	t.Helper()
	req.Source = "test"
	_, err := f.svc.Grant(context.Background(), req)
	require.NoError(t, err)
}

func TestPostgres_GrantAndConsume(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.pool, "student")

	exp := f.clock.Now().Add(5 * 24 * time.Hour)
	f.grant(t, GrantRequest{UserID: user, Amount: dec("10"), Type: CreditFreeActivity, ExpiresAt: &exp})
	f.grant(t, GrantRequest{UserID: user, Amount: dec("5"), Type: CreditPaid})

	res, err := f.svc.Consume(ctx, ConsumeRequest{UserID: user, Amount: dec("12"), Reason: "chat_message"})
	require.NoError(t, err)
	require.Len(t, res.Usages, 2)
	assertDec(t, "10", res.Usages[0].AmountUsed)
	assertDec(t, "2", res.Usages[1].AmountUsed)
	assertDec(t, "3", res.Balance)

	acct, err := f.repo.GetAccount(ctx, user)
	require.NoError(t, err)
	assertDec(t, "0", acct.FreeCredits)
	assertDec(t, "3", acct.PaidCredits)
	assertDec(t, "12", acct.TotalSpent)

	_, err = f.svc.Consume(ctx, ConsumeRequest{UserID: user, Amount: dec("4"), Reason: "chat_message"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	txs, total, err := f.repo.ListTransactions(ctx, user, ListParams{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, txs, 3)

	usages, total, err := f.repo.ListUsage(ctx, user, ListParams{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, usages, 2)
}

func TestPostgres_ExpireSweepIsIdempotent(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.pool, "individual")

	exp := f.clock.Now().Add(time.Hour)
	f.grant(t, GrantRequest{UserID: user, Amount: dec("7"), Type: CreditPromotional, ExpiresAt: &exp})
	f.grant(t, GrantRequest{UserID: user, Amount: dec("2"), Type: CreditPaid})

	f.clock.Advance(2 * time.Hour)

	res, err := f.svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Users)
	assert.Equal(t, 1, res.Entries)
	assertDec(t, "7", res.Amount)

	res, err = f.svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Entries)

	acct, err := f.repo.GetAccount(ctx, user)
	require.NoError(t, err)
	assertDec(t, "2", acct.Balance)
	assertDec(t, "0", acct.FreeCredits)
	assertDec(t, "7", acct.TotalExpired)
}

func TestPostgres_DailyBonusOncePerDay(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.pool, "student")

	b, err := f.svc.GrantDailyBonus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, b.StreakDay)

	_, err = f.svc.GrantDailyBonus(ctx, user)
	assert.ErrorIs(t, err, ErrBonusAlreadyClaimed)

	f.clock.Advance(24 * time.Hour)
	b, err = f.svc.GrantDailyBonus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, b.StreakDay)
}

func TestPostgres_ConcurrentConsumeNeverOverdraws(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.pool, "student")
	f.grant(t, GrantRequest{UserID: user, Amount: dec("10"), Type: CreditPaid})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Consume(ctx, ConsumeRequest{UserID: user, Amount: dec("1"), Reason: "chat_message"}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	acct, err := f.repo.GetAccount(ctx, user)
	require.NoError(t, err)
	assertDec(t, "0", acct.Balance)
	assertDec(t, "10", acct.TotalSpent)
}

func TestPostgres_ConsumeRacesExpireSweep(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.pool, "student")

	granted := decimal.Zero
	for i := 1; i <= 10; i++ {
		exp := f.clock.Now().Add(time.Duration(i) * time.Second)
		f.grant(t, GrantRequest{UserID: user, Amount: dec("1"), Type: CreditPromotional, ExpiresAt: &exp})
		granted = granted.Add(dec("1"))
	}
	f.grant(t, GrantRequest{UserID: user, Amount: dec("5"), Type: CreditPaid})
	granted = granted.Add(dec("5"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		spent    = decimal.Zero
		failures []error
	)
	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Consume(ctx, ConsumeRequest{UserID: user, Amount: dec("0.5"), Reason: "chat_message"})
			switch {
			case err == nil:
				mu.Lock()
				spent = spent.Add(dec("0.5"))
				mu.Unlock()
			case errors.Is(err, ErrInsufficientCredits), errors.Is(err, ErrConcurrentModification):
			default:
				fail(err)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := f.svc.ExpireSweep(ctx); err != nil && !errors.Is(err, ErrConcurrentModification) {
					fail(err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 12; i++ {
			f.clock.Advance(time.Second)
			time.Sleep(5 * time.Millisecond)
		}
	}()
	wg.Wait()
	require.Empty(t, failures)

	_, err := f.svc.ExpireSweep(ctx)
	require.NoError(t, err)

	acct, err := f.repo.GetAccount(ctx, user)
	require.NoError(t, err)
	entries, _, err := f.repo.ListLedger(ctx, user, ListParams{Limit: 100})
	require.NoError(t, err)

	live := decimal.Zero
	for _, e := range entries {
		if e.Live() {
			live = live.Add(e.BalanceRemaining)
		}
	}
	assertDec(t, live.String(), acct.Balance)
	assertDec(t, spent.String(), acct.TotalSpent)
	assertDec(t, granted.String(), acct.TotalSpent.Add(acct.TotalExpired).Add(acct.Balance))
}

func TestPostgres_ConsumeWithinSharesTransaction(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.pool, "student")
	f.grant(t, GrantRequest{UserID: user, Amount: dec("2"), Type: CreditPaid})

	var inTx int
	_, err := f.svc.Consume(ctx, ConsumeRequest{
		UserID: user,
		Amount: dec("1"),
		Reason: "chat_message",
		Within: func(ctx context.Context, db database.DBTX) error {
			// The spend is visible inside the transaction.
			if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM credit_usage WHERE user_id = $1`, user).Scan(&inTx); err != nil {
				return err
			}
			return errors.New("db down")
		},
	})
	require.EqualError(t, err, "db down")
	assert.Equal(t, 1, inTx)

	acct, err := f.repo.GetAccount(ctx, user)
	require.NoError(t, err)
	assertDec(t, "2", acct.Balance)
	_, total, err := f.repo.ListUsage(ctx, user, ListParams{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}
