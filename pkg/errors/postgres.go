package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE values the settlement engine reacts to.
const (
	SQLStateUniqueViolation      = "23505"
	SQLStateForeignKeyViolation  = "23503"
	SQLStateCheckViolation       = "23514"
	SQLStateSerializationFailure = "40001"
	SQLStateDeadlockDetected     = "40P01"
	SQLStateLockNotAvailable     = "55P03"
)

var sqlStateCodes = map[string]Code{
	SQLStateUniqueViolation:      CodeConflict,
	SQLStateForeignKeyViolation:  CodeValidation,
	SQLStateCheckViolation:       CodeValidation,
	SQLStateSerializationFailure: CodeStaleVersion,
	SQLStateDeadlockDetected:     CodeStaleVersion,
	SQLStateLockNotAvailable:     CodeLockContended,
}

// pgDetails is the driver-neutral subset of a Postgres error.
type pgDetails struct {
	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

func postgresDetails(err error) (pgDetails, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgDetails{
			SQLState:   pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgDetails{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return pgDetails{}, false
}

// SQLState returns the Postgres SQLSTATE carried by err, or "".
func SQLState(err error) string {
	details, _ := postgresDetails(err)
	return details.SQLState
}

// FromPostgres wraps err with the code its SQLSTATE implies. It reports false
// when err carries no Postgres error or the state has no mapping.
func FromPostgres(err error, message string) (*Error, bool) {
	details, ok := postgresDetails(err)
	if !ok {
		return nil, false
	}
	code, ok := sqlStateCodes[details.SQLState]
	if !ok {
		return nil, false
	}
	wrapped := Wrap(code, err, message)
	if details.Constraint != "" && MetadataFor(code).DetailsAllowed {
		wrapped = wrapped.WithDetails(map[string]any{"constraint": details.Constraint})
	}
	return wrapped, true
}

// LogFields flattens err into structured log fields: the typed code, the
// unwrap chain and any Postgres diagnostics. Empty values are omitted.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = typed.Code()
		if dm, ok := typed.Details().(map[string]any); ok {
			if step, ok := dm["step"]; ok {
				fields["step"] = step
			}
		}
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	if len(chain) > 1 {
		fields["error_chain"] = chain
	}

	if details, ok := postgresDetails(err); ok {
		for key, value := range map[string]string{
			"pg_code":       details.SQLState,
			"pg_constraint": details.Constraint,
			"pg_table":      details.Table,
			"pg_column":     details.Column,
			"pg_detail":     details.Detail,
			"pg_message":    details.Message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
