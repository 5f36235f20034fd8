package snapshot

import (
	"context"
	"strconv"
)

// Tx executes statements inside one storage transaction.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Storage is the capability the writer needs from a database engine.
type Storage interface {
	Dialect() Dialect
	// RunTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. The connection is released before RunTx returns.
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Dialect captures the SQL differences between engines.
type Dialect struct {
	Name string
	// IDColumn is the DDL of the auto-increment primary key.
	IDColumn string
	numbered bool
}

var (
	SQLite   = Dialect{Name: "sqlite", IDColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT"}
	Postgres = Dialect{Name: "postgres", IDColumn: "id BIGSERIAL PRIMARY KEY", numbered: true}
)

// Placeholder returns the bind marker for the i-th argument, counting from 1.
func (d Dialect) Placeholder(i int) string {
	if d.numbered {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}
