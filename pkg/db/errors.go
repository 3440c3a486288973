package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique constraint violation
// (Postgres or SQLite). When names are given, the error must mention at least
// one of them: Postgres reports the constraint name, SQLite the table.column.
func IsUniqueViolation(err error, names ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if pkgerrors.SQLState(err) != pkgerrors.SQLStateUniqueViolation &&
		!strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if name == "" || strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
