package inmemdb

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/core/otp"
)

type (
	// DB is an in-memory store for tests and local runs without postgres.
	// Transactions are serialized and rolled back by undoing their own writes.
	DB struct {
		txMu  sync.Mutex
		mutex sync.RWMutex
		state *state
	}

	state struct {
		seq        int64
		accounts   map[string]account.Account // {id: Account}; Profile unset
		profiles   map[string]account.Profile // {accountID: Profile}
		challenges map[int64]otp.Challenge
		invites    map[string]invite.Code // {code: Code}
		audit      []audit.Entry
	}
)

var _ core.Transactor = (*DB)(nil)

func newState() *state {
	return &state{
		accounts:   make(map[string]account.Account),
		profiles:   make(map[string]account.Profile),
		challenges: make(map[int64]otp.Challenge),
		invites:    make(map[string]invite.Code),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func Open() *DB {
	return &DB{state: newState()}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.state = newState()
}

// InTx runs fn with an executor that records how to undo each write made through it.
// On failure only those writes are reverted; writes made outside the transaction are kept.
func (db *DB) InTx(_ context.Context, fn func(exec core.DBExecutor) error) (err error) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	t := new(tx)
	defer func() {
		if p := recover(); p != nil {
			db.rollback(t)
			panic(p)
		}
	}()

	if err = fn(t); err != nil {
		db.rollback(t)
	}
	return err
}

func (db *DB) rollback(t *tx) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i](db.state)
	}
	t.undo = nil
}

var errNoSQL = errors.New("inmemdb: SQL is not supported")

// tx is the executor handed out by InTx. It runs no SQL.
type tx struct {
	undo []func(s *state)
}

var _ core.DBExecutor = (*tx)(nil)

func (*tx) Exec(string, ...interface{}) (sql.Result, error) { return nil, errNoSQL }
func (*tx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}
func (*tx) Query(string, ...interface{}) (*sql.Rows, error) { return nil, errNoSQL }
func (*tx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errNoSQL
}
func (*tx) QueryRow(string, ...interface{}) *sql.Row { return nil }
func (*tx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

// onRollback registers undo when exec carries an in-memory transaction.
// Must be called with db.mutex held, right after the write it reverts.
func onRollback(exec []core.DBExecutor, undo func(s *state)) {
	for _, e := range exec {
		if t, ok := e.(*tx); ok {
			t.undo = append(t.undo, undo)
			return
		}
	}
}
