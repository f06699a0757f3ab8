package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/internal/fakedb"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types(txID string) []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Type
	for _, e := range r.events {
		if e.TxID == txID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (r *recorder) count(t event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

var fastRetry = retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

type fixture struct {
	tm    *Manager
	pools *pool.Manager
	db    *fakedb.DB
	rec   *recorder
}

func (f *fixture) poolStatus(t *testing.T) pool.Status {
	t.Helper()
	st, err := f.pools.GetPoolStatus("main")
	require.NoError(t, err)
	return st
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := fakedb.New("postgres")
	pools := pool.NewManager(pool.WithRetryPolicy(fastRetry))
	cfg := pool.DefaultConfig()
	cfg.Max = 4
	cfg.Connector = db
	_, err := pools.InitializePool(context.Background(), "main", cfg)
	require.NoError(t, err)

	rec := &recorder{}
	base := []Option{WithPublisher(rec), WithRetryPolicy(fastRetry), WithDefaults("main", time.Second, driver.IsolationDefault)}
	tm := NewManager(FromPool(pools), append(base, opts...)...)
	t.Cleanup(func() {
		tm.ForceRollbackAll(context.Background())
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pools.CloseAllPools(ctx)
	})
	return &fixture{tm: tm, pools: pools, db: db, rec: rec}
}

func TestBeginCommit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateActive, tx.State())
	assert.Equal(t, "main", tx.PoolID())
	assert.Equal(t, 1, f.poolStatus(t).Active)

	_, err = tx.Execute(ctx, `UPDATE "accounts" SET "balance" = $1`, 10)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, StateCommitted, tx.State())
	assert.Equal(t, 0, f.poolStatus(t).Active)
	assert.Equal(t, []event.Type{event.TxStart, event.TxCommit, event.TxComplete}, f.rec.types(tx.ID()))
	<-tx.Done()

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, dberr.ErrTransactionNotActive)
	_, err = tx.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, dberr.ErrTransactionNotActive)

	stats := f.tm.GetStatistics()
	assert.EqualValues(t, 1, stats.Started)
	assert.EqualValues(t, 1, stats.Committed)
	assert.Zero(t, stats.Active)
}

func TestBeginAppliesIsolation(t *testing.T) {
	ctx := context.Background()
	f := setup(t, WithDefaults("main", time.Second, driver.IsolationReadCommitted))

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	tx, err = f.tm.BeginTransaction(ctx, Options{Isolation: driver.IsolationSerializable, ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, driver.IsolationSerializable, tx.Info().Isolation)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 1, f.db.Count("BEGIN ISOLATION LEVEL READ COMMITTED"))
	assert.Equal(t, 1, f.db.Count("BEGIN ISOLATION LEVEL SERIALIZABLE"))
}

func TestBeginFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.tm.BeginTransaction(ctx, Options{PoolID: "nope"})
	var beginErr *dberr.TransactionBeginError
	require.ErrorAs(t, err, &beginErr)
	assert.Equal(t, "nope", beginErr.PoolID)
	var nf *dberr.PoolNotFoundError
	assert.ErrorAs(t, err, &nf)

	f.db.FailOn(func(sql string) error {
		if sql == "BEGIN" {
			return errors.New("read-only replica")
		}
		return nil
	})
	_, err = f.tm.BeginTransaction(ctx, Options{})
	require.ErrorAs(t, err, &beginErr)
	assert.Equal(t, 0, f.poolStatus(t).Active, "connection released after failed BEGIN")
	assert.EqualValues(t, 2, f.tm.GetStatistics().Failed)
	assert.Equal(t, 2, f.rec.count(event.TxError))
}

func TestRollbackTwiceIsSafe(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)
	released := f.poolStatus(t).TotalReleased

	require.NoError(t, f.tm.Rollback(ctx, tx))
	require.NoError(t, f.tm.Rollback(ctx, tx))

	assert.Equal(t, StateRolledBack, tx.State())
	assert.EqualValues(t, 1, f.db.Rollbacks.Load())
	assert.Equal(t, released+1, f.poolStatus(t).TotalReleased, "connection released once")
	assert.NoError(t, tx.Err())
}

func TestTimeoutRollsBackAndReleases(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tx, err := f.tm.BeginTransaction(ctx, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	select {
	case <-tx.Done():
	case <-time.After(time.Second):
		t.Fatal("transaction was not rolled back after its timeout")
	}
	assert.GreaterOrEqual(t, tx.Duration(), 50*time.Millisecond)
	assert.Equal(t, StateRolledBack, tx.State())
	assert.ErrorIs(t, tx.Err(), dberr.ErrTransactionTimeout)
	assert.Equal(t, 0, f.poolStatus(t).Active)
	assert.EqualValues(t, 1, f.db.Rollbacks.Load())
	assert.EqualValues(t, 1, f.tm.GetStatistics().TimedOut)
	assert.Equal(t, []event.Type{event.TxStart, event.TxTimeout, event.TxRollback, event.TxComplete}, f.rec.types(tx.ID()))

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, dberr.ErrTransactionNotActive)
	assert.ErrorIs(t, err, dberr.ErrTransactionTimeout)
	require.NoError(t, tx.Rollback(ctx))
	assert.EqualValues(t, 1, f.db.Rollbacks.Load())
}

func TestTimeoutCancelsInFlightStatement(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tx, err := f.tm.BeginTransaction(ctx, Options{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	f.db.SetDelay(5 * time.Second)

	start := time.Now()
	_, err = tx.Query(ctx, "SELECT pg_sleep(5)")
	assert.ErrorIs(t, err, dberr.ErrTransactionTimeout)
	assert.Less(t, time.Since(start), time.Second)

	f.db.SetDelay(0)
	<-tx.Done()
	assert.Equal(t, StateRolledBack, tx.State())
}

func TestTimerAndCallerRollbackRace(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for i := 0; i < 20; i++ {
		tx, err := f.tm.BeginTransaction(ctx, Options{Timeout: time.Millisecond})
		require.NoError(t, err)
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, f.tm.Rollback(ctx, tx))
			}()
		}
		wg.Wait()
		<-tx.Done()
	}
	assert.EqualValues(t, 20, f.db.Rollbacks.Load())
	assert.EqualValues(t, 20, f.tm.GetStatistics().RolledBack)
	assert.Equal(t, 0, f.poolStatus(t).Active)
}

func TestCallerCancellationRollsBack(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)
	cancel()

	select {
	case <-tx.Done():
	case <-time.After(time.Second):
		t.Fatal("transaction outlived its context")
	}
	assert.Equal(t, StateRolledBack, tx.State())
	assert.ErrorIs(t, tx.Err(), context.Canceled)
	assert.Zero(t, f.tm.GetStatistics().TimedOut)
}

func TestCommitFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.db.FailOn(func(sql string) error {
		if sql == "COMMIT" {
			return errors.New("could not serialize access due to concurrent update")
		}
		return nil
	})

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)
	err = f.tm.Commit(ctx, tx)

	var commitErr *dberr.TransactionCommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, tx.ID(), commitErr.TxID)
	assert.Equal(t, StateFailed, tx.State())
	assert.Equal(t, 0, f.poolStatus(t).Active)
	assert.EqualValues(t, 1, f.tm.GetStatistics().Failed)

	require.NoError(t, f.tm.Rollback(ctx, tx), "rollback of a failed transaction is a no-op")
}

func TestRollbackStatementFailureIsNotRaised(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.db.FailOn(func(sql string) error {
		if sql == "ROLLBACK" {
			return errors.New("server closed the connection")
		}
		return nil
	})

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, f.tm.Rollback(ctx, tx))

	assert.Equal(t, StateRolledBack, tx.State())
	assert.ErrorContains(t, tx.Err(), "server closed the connection")
	assert.Equal(t, 0, f.poolStatus(t).Active)
	assert.Equal(t, 1, f.rec.count(event.TxError))
}

func TestStatementsAreSerialised(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tx, err := f.tm.BeginTransaction(ctx, Options{})
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tx.Execute(ctx, fmt.Sprintf("INSERT INTO log VALUES (%d)", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, n, tx.Info().Statements)
	require.NoError(t, tx.Commit(ctx))
}

func TestExecuteInTransactionRetriesDeadlock(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var calls atomic.Int32
	out, err := f.tm.ExecuteInTransaction(ctx, func(ctx context.Context, tx *Transaction) (any, error) {
		if _, err := tx.Execute(ctx, "UPDATE stock SET qty = qty - 1"); err != nil {
			return nil, err
		}
		if calls.Add(1) <= 2 {
			return nil, errors.New("Deadlock found when trying to get lock; try restarting transaction")
		}
		return "ok", nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 3, calls.Load())
	stats := f.tm.GetStatistics()
	assert.EqualValues(t, 2, stats.Retries)
	assert.EqualValues(t, 1, stats.Committed)
	assert.EqualValues(t, 2, stats.RolledBack)
	assert.Equal(t, 0, f.poolStatus(t).Active)
}

func TestExecuteInTransactionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("NonRetryable", func(t *testing.T) {
		f := setup(t)
		boom := errors.New("duplicate key value violates unique constraint")
		_, err := f.tm.Atomic(ctx, func(ctx context.Context, tx *Transaction) (any, error) {
			return nil, boom
		}, Options{})

		var execErr *dberr.TransactionExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, execErr.Attempts)
		assert.Equal(t, "main", execErr.PoolID)
		assert.NotEmpty(t, execErr.TxID)
		assert.EqualValues(t, 1, f.db.Rollbacks.Load())
	})

	t.Run("Exhausted", func(t *testing.T) {
		f := setup(t)
		_, err := Run(ctx, f.tm, func(ctx context.Context, tx *Transaction) (int, error) {
			return 0, errors.New("lock wait timeout exceeded")
		}, Options{})

		var execErr *dberr.TransactionExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, 3, execErr.Attempts)
		assert.EqualValues(t, 2, f.tm.GetStatistics().Retries)
	})

	t.Run("Panic", func(t *testing.T) {
		f := setup(t)
		assert.PanicsWithValue(t, "boom", func() {
			_, _ = f.tm.ExecuteInTransaction(ctx, func(ctx context.Context, tx *Transaction) (any, error) {
				panic("boom")
			}, Options{})
		})
		assert.Empty(t, f.tm.GetActiveTransactions())
		assert.EqualValues(t, 1, f.db.Rollbacks.Load())
		assert.Equal(t, 0, f.poolStatus(t).Active)
	})
}

func TestRunTyped(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.db.OnQuery(func(sql string, params []any) *driver.Result {
		return &driver.Result{Columns: []string{"balance"}, Rows: []map[string]any{{"balance": int64(42)}}}
	})

	balance, err := Run(ctx, f.tm, func(ctx context.Context, tx *Transaction) (int64, error) {
		res, err := tx.Query(ctx, `SELECT "balance" FROM "accounts" WHERE "id" = $1`, 7)
		if err != nil {
			return 0, err
		}
		return res.Rows[0]["balance"].(int64), nil
	}, Options{ReadOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 42, balance)
}

func TestExecuteBatchInTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	op := func(sql string) func(ctx context.Context, tx *Transaction) (any, error) {
		return func(ctx context.Context, tx *Transaction) (any, error) {
			res, err := tx.Execute(ctx, sql)
			if err != nil {
				return nil, err
			}
			return res.RowsAffected, nil
		}
	}

	results, err := f.tm.ExecuteBatchInTransaction(ctx, []func(ctx context.Context, tx *Transaction) (any, error){
		op("INSERT INTO a VALUES (1)"),
		op("INSERT INTO b VALUES (2)"),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(1)}, results)
	assert.EqualValues(t, 1, f.db.Commits.Load())

	f.db.FailOn(func(sql string) error {
		if sql == "INSERT INTO bad VALUES (3)" {
			return errors.New("relation \"bad\" does not exist")
		}
		return nil
	})
	_, err = f.tm.ExecuteBatchInTransaction(ctx, []func(ctx context.Context, tx *Transaction) (any, error){
		op("INSERT INTO a VALUES (1)"),
		op("INSERT INTO bad VALUES (3)"),
		op("INSERT INTO c VALUES (4)"),
	}, Options{})
	assert.ErrorContains(t, err, "batch operation 1")
	assert.Zero(t, f.db.Count("INSERT INTO c VALUES (4)"))
	assert.EqualValues(t, 1, f.db.Commits.Load())
	assert.EqualValues(t, 1, f.db.Rollbacks.Load())
}

func TestIntrospectionAndForceRollback(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var txs []*Transaction
	for i := 0; i < 3; i++ {
		tx, err := f.tm.BeginTransaction(ctx, Options{})
		require.NoError(t, err)
		txs = append(txs, tx)
	}

	active := f.tm.GetActiveTransactions()
	require.Len(t, active, 3)
	assert.Equal(t, txs[0].ID(), active[0].ID)
	assert.Equal(t, StateActive, active[0].State)

	found, ok := f.tm.FindTransaction(txs[1].ID())
	require.True(t, ok)
	assert.Same(t, txs[1], found)
	_, ok = f.tm.FindTransaction("missing")
	assert.False(t, ok)

	require.NoError(t, txs[0].Commit(ctx))
	_, ok = f.tm.FindTransaction(txs[0].ID())
	assert.False(t, ok)

	assert.Equal(t, 2, f.tm.ForceRollbackAll(ctx))
	assert.Zero(t, f.tm.ForceRollbackAll(ctx))
	assert.Empty(t, f.tm.GetActiveTransactions())
	assert.ErrorIs(t, txs[2].Err(), ErrForcedRollback)

	stats := f.tm.GetStatistics()
	assert.EqualValues(t, 3, stats.Started)
	assert.EqualValues(t, 1, stats.Committed)
	assert.EqualValues(t, 2, stats.RolledBack)
	assert.Positive(t, stats.AvgDuration)
	assert.Equal(t, 0, f.poolStatus(t).Active)
}

func TestForceRollbackNeverPrecedesStart(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.tm.ForceRollbackAll(ctx)
			}
		}
	}()

	var txs []*Transaction
	for i := 0; i < 50; i++ {
		tx, err := f.tm.BeginTransaction(ctx, Options{})
		require.NoError(t, err)
		_ = tx.Rollback(ctx)
		txs = append(txs, tx)
	}
	close(stop)
	wg.Wait()

	for _, tx := range txs {
		<-tx.Done()
		types := f.rec.types(tx.ID())
		require.NotEmpty(t, types)
		assert.Equal(t, event.TxStart, types[0], "transaction %s", tx.ID())
		assert.Equal(t, event.TxComplete, types[len(types)-1], "transaction %s", tx.ID())
	}
	assert.Empty(t, f.tm.GetActiveTransactions())
	assert.Equal(t, 0, f.poolStatus(t).Active)
}

func TestState(t *testing.T) {
	assert.Equal(t, "ROLLED_BACK", StateRolledBack.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
	for _, s := range []State{StateCommitted, StateRolledBack, StateFailed} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateIdle, StateStarting, StateActive, StateCommitting} {
		assert.False(t, s.Terminal(), s.String())
	}
	text, err := StateCommitting.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "COMMITTING", string(text))
}
