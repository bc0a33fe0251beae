// Package txn implements the store's atomic multi-index write unit: a
// transaction buffers a sequence of operation descriptors, executes them
// in submission order on Commit, and rolls back everything already
// applied (LIFO, best-effort) if any operation fails or the deadline
// fires.
//
// This generalizes the teacher lineage's pkg/storage/transaction.go
// (buffered CRUD ops with a pending-state overlay and an undo path) from
// CRUD-specific operations to spec.md §4.5's descriptor model:
// Operation.Execute performs the forward action and returns a Compensate
// closure; the manager records compensations as they're produced and
// replays them in reverse on failure.
package txn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/triadb/triadb/pkg/model"
)

// Compensate undoes the forward action an Operation.Execute already
// applied. It is called at most once, best-effort, during rollback.
type Compensate func(ctx context.Context) error

// Operation is one forward step of a transaction. Execute must be
// idempotent-safe to call exactly once; it returns a Compensate closure
// (nil if the step needs no undo, e.g. a pure read) or an error that
// aborts the transaction.
type Operation struct {
	Name    string
	Execute func(ctx context.Context) (Compensate, error)
}

// Stats is an immutable snapshot of a Manager's running totals.
type Stats struct {
	TotalTransactions     uint64
	Successful            uint64
	Failed                uint64
	RolledBack            uint64
	AverageExecutionMs    float64
	AverageOperationsPerTx float64
}

// Manager creates transactions and aggregates their outcomes into Stats.
type Manager struct {
	totalTransactions uint64
	successful        uint64
	failed            uint64
	rolledBack        uint64

	mu              sync.Mutex
	totalExecMs     float64
	totalOps        uint64
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Begin returns a new Transaction bound to this manager. deadline is the
// maximum wall-clock time Commit may run before every remaining operation
// is cancelled and already-applied ones are rolled back; zero means no
// deadline, per spec.md §4.5.
func (m *Manager) Begin(deadline time.Duration) *Transaction {
	return &Transaction{
		id:       model.TxID(uuid.NewString()),
		manager:  m,
		deadline: deadline,
		pending:  make(map[string][]byte),
	}
}

// Stats returns an immutable snapshot of the manager's running totals.
func (m *Manager) Stats() Stats {
	total := atomic.LoadUint64(&m.totalTransactions)
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalTransactions: total,
		Successful:        atomic.LoadUint64(&m.successful),
		Failed:            atomic.LoadUint64(&m.failed),
		RolledBack:        atomic.LoadUint64(&m.rolledBack),
	}
	if total > 0 {
		s.AverageExecutionMs = m.totalExecMs / float64(total)
		s.AverageOperationsPerTx = float64(m.totalOps) / float64(total)
	}
	return s
}

func (m *Manager) record(success bool, rolledBack bool, execMs float64, opCount int) {
	atomic.AddUint64(&m.totalTransactions, 1)
	if success {
		atomic.AddUint64(&m.successful, 1)
	} else {
		atomic.AddUint64(&m.failed, 1)
	}
	if rolledBack {
		atomic.AddUint64(&m.rolledBack, 1)
	}
	m.mu.Lock()
	m.totalExecMs += execMs
	m.totalOps += uint64(opCount)
	m.mu.Unlock()
}

// Transaction buffers operations for atomic execution. Operations run in
// submission order on Commit; any failure rolls back everything already
// applied, LIFO, best-effort.
type Transaction struct {
	id       model.TxID
	manager  *Manager
	deadline time.Duration

	ops []Operation

	mu      sync.Mutex
	pending map[string][]byte // read-your-writes overlay, keyed by caller-defined key
	deleted map[string]bool
}

// ID returns the transaction's unique identifier.
func (tx *Transaction) ID() model.TxID { return tx.id }

// AddOperation buffers op to run when Commit is called. Operations run in
// the order they were added.
func (tx *Transaction) AddOperation(op Operation) {
	tx.ops = append(tx.ops, op)
}

// PutPending records key=value in this transaction's write-your-writes
// overlay, visible to GetPending within the same transaction but not to
// any other transaction or the committed state until Commit succeeds.
func (tx *Transaction) PutPending(key string, value []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending[key] = value
	if tx.deleted != nil {
		delete(tx.deleted, key)
	}
}

// DeletePending marks key as deleted within this transaction's overlay.
func (tx *Transaction) DeletePending(key string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	delete(tx.pending, key)
	if tx.deleted == nil {
		tx.deleted = make(map[string]bool)
	}
	tx.deleted[key] = true
}

// GetPending returns this transaction's overlaid value for key, and
// whether it has been written or deleted in this transaction at all
// (found=true, deleted tracked separately via the second bool).
func (tx *Transaction) GetPending(key string) (value []byte, found, isDeleted bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.deleted != nil && tx.deleted[key] {
		return nil, true, true
	}
	v, ok := tx.pending[key]
	return v, ok, false
}

// Commit executes every buffered operation in submission order. If all
// succeed, compensations are discarded and the transaction is done. If
// any operation fails (or the deadline elapses), every already-applied
// operation's compensation runs in LIFO order, best-effort, and Commit
// returns a *model.TransactionError wrapping the triggering cause plus any
// compensation failures.
func (tx *Transaction) Commit(ctx context.Context) error {
	start := time.Now()
	if tx.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tx.deadline)
		defer cancel()
	}

	var compensations []Compensate
	var cause error

	for _, op := range tx.ops {
		if err := ctx.Err(); err != nil {
			cause = model.NewError(model.KindTimeout, "txn.Commit", fmt.Errorf("operation %q: %w", op.Name, err))
			break
		}
		compensate, err := op.Execute(ctx)
		if compensate != nil {
			compensations = append(compensations, compensate)
		}
		if err != nil {
			cause = fmt.Errorf("operation %q: %w", op.Name, err)
			break
		}
	}
	if cause == nil {
		if err := ctx.Err(); err != nil {
			cause = model.NewError(model.KindTimeout, "txn.Commit", err)
		}
	}

	execMs := float64(time.Since(start).Microseconds()) / 1000.0

	if cause == nil {
		tx.manager.record(true, false, execMs, len(tx.ops))
		return nil
	}

	compErrs := rollback(tx.deadline, compensations)
	tx.manager.record(false, true, execMs, len(tx.ops))
	return &model.TransactionError{Cause: cause, CompensationErrors: compErrs}
}

// rollbackTimeout bounds a rollback pass when the triggering transaction
// had no deadline of its own.
const rollbackTimeout = 10 * time.Second

// rollback runs compensations in LIFO order, best-effort: a failing
// compensation is recorded but does not stop the rest from running. It
// runs against a fresh context rather than the one Commit used, since a
// deadline-triggered rollback's ctx is already expired by the time
// rollback starts — reusing it would make every context-aware
// compensation (e.g. a StorageAdapter backend honoring cancellation) fail
// immediately instead of actually undoing the forward write.
func rollback(txDeadline time.Duration, compensations []Compensate) []error {
	timeout := txDeadline
	if timeout <= 0 {
		timeout = rollbackTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for i := len(compensations) - 1; i >= 0; i-- {
		if err := compensations[i](ctx); err != nil {
			log.Printf("txn: compensation failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errs
}
