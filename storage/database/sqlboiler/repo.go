// Package boiledrepos holds the postgres repositories, written as raw sqlboiler queries bound to row structs.
package boiledrepos

import (
	"database/sql"
	"strings"

	"github.com/friendsofgo/errors"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/shule/core"
)

// getExec returns the executor passed by the service (a transaction) if any, the repository's otherwise.
func getExec(def core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return def
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func quotedColumns(cols []string) string {
	return strings.Join(strmangle.IdentQuoteSlice('"', '"', cols), ", ")
}

// insertQuery returns `INSERT INTO table (cols) VALUES ($1, ...) RETURNING returning`.
func insertQuery(table string, cols []string, returning ...string) string {
	q := "INSERT INTO " + table + " (" + quotedColumns(cols) + ") VALUES (" +
		strmangle.Placeholders(true, len(cols), 1, 1) + ")"
	if len(returning) > 0 {
		q += " RETURNING " + quotedColumns(returning)
	}
	return q
}

func rowsAffected(res sql.Result, err error, notFound error, msg string) error {
	if err != nil {
		return errors.Wrap(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
