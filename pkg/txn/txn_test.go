package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadb/triadb/pkg/model"
)

func TestCommitAllSucceed(t *testing.T) {
	mgr := NewManager()
	tx := mgr.Begin(0)

	var applied []string
	tx.AddOperation(Operation{
		Name: "add-noun",
		Execute: func(ctx context.Context) (Compensate, error) {
			applied = append(applied, "add-noun")
			return func(ctx context.Context) error {
				applied = append(applied, "undo-add-noun")
				return nil
			}, nil
		},
	})
	tx.AddOperation(Operation{
		Name: "relate",
		Execute: func(ctx context.Context) (Compensate, error) {
			applied = append(applied, "relate")
			return nil, nil
		},
	})

	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, []string{"add-noun", "relate"}, applied)

	stats := mgr.Stats()
	assert.Equal(t, uint64(1), stats.TotalTransactions)
	assert.Equal(t, uint64(1), stats.Successful)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	mgr := NewManager()
	tx := mgr.Begin(0)

	var compensated []string
	tx.AddOperation(Operation{
		Name: "add-noun",
		Execute: func(ctx context.Context) (Compensate, error) {
			return func(ctx context.Context) error {
				compensated = append(compensated, "add-noun")
				return nil
			}, nil
		},
	})
	tx.AddOperation(Operation{
		Name: "relate",
		Execute: func(ctx context.Context) (Compensate, error) {
			return func(ctx context.Context) error {
				compensated = append(compensated, "relate")
				return nil
			}, nil
		},
	})
	tx.AddOperation(Operation{
		Name: "fail-step",
		Execute: func(ctx context.Context) (Compensate, error) {
			return nil, errors.New("boom")
		},
	})

	err := tx.Commit(context.Background())
	require.Error(t, err)
	var txErr *model.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Empty(t, txErr.CompensationErrors)
	assert.Equal(t, []string{"relate", "add-noun"}, compensated) // LIFO

	stats := mgr.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.RolledBack)
}

func TestCompensationFailureStillRunsRest(t *testing.T) {
	mgr := NewManager()
	tx := mgr.Begin(0)

	var compensated []string
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			return func(ctx context.Context) error {
				compensated = append(compensated, "first")
				return errors.New("compensate failed")
			}, nil
		},
	})
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			return func(ctx context.Context) error {
				compensated = append(compensated, "second")
				return nil
			}, nil
		},
	})
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			return nil, errors.New("boom")
		},
	})

	err := tx.Commit(context.Background())
	require.Error(t, err)
	var txErr *model.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Len(t, txErr.CompensationErrors, 1)
	assert.Equal(t, []string{"second", "first"}, compensated)
}

func TestDeadlineTriggersRollback(t *testing.T) {
	mgr := NewManager()
	tx := mgr.Begin(10 * time.Millisecond)

	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			return func(ctx context.Context) error { return nil }, nil
		},
	})
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		},
	})
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			return nil, nil
		},
	})

	err := tx.Commit(context.Background())
	require.Error(t, err)
}

func TestDeadlineTriggersRollbackWithContextAwareCompensation(t *testing.T) {
	mgr := NewManager()
	tx := mgr.Begin(10 * time.Millisecond)

	var undone bool
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			return func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				undone = true
				return nil
			}, nil
		},
	})
	tx.AddOperation(Operation{
		Execute: func(ctx context.Context) (Compensate, error) {
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		},
	})

	err := tx.Commit(context.Background())
	require.Error(t, err)
	var txErr *model.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Empty(t, txErr.CompensationErrors)
	assert.True(t, undone, "compensation must run against a live context, not the expired Commit ctx")
}

func TestReadYourWritesOverlay(t *testing.T) {
	mgr := NewManager()
	tx := mgr.Begin(0)

	tx.PutPending("noun/a", []byte("hello"))
	v, found, deleted := tx.GetPending("noun/a")
	require.True(t, found)
	assert.False(t, deleted)
	assert.Equal(t, []byte("hello"), v)

	tx.DeletePending("noun/a")
	_, found, deleted = tx.GetPending("noun/a")
	assert.True(t, found)
	assert.True(t, deleted)
}

func TestStatsAverages(t *testing.T) {
	mgr := NewManager()
	for i := 0; i < 3; i++ {
		tx := mgr.Begin(0)
		tx.AddOperation(Operation{Execute: func(ctx context.Context) (Compensate, error) { return nil, nil }})
		require.NoError(t, tx.Commit(context.Background()))
	}
	stats := mgr.Stats()
	assert.Equal(t, uint64(3), stats.TotalTransactions)
	assert.Equal(t, 1.0, stats.AverageOperationsPerTx)
}
