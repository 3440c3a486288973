package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestFromPostgresMapsSQLState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"pgx unique", &pgconn.PgError{Code: SQLStateUniqueViolation, ConstraintName: "ux_commissions_delivery"}, CodeConflict},
		{"pgx serialization", fmt.Errorf("commit: %w", &pgconn.PgError{Code: SQLStateSerializationFailure}), CodeStaleVersion},
		{"pq deadlock", &pq.Error{Code: SQLStateDeadlockDetected}, CodeStaleVersion},
		{"pq lock timeout", &pq.Error{Code: SQLStateLockNotAvailable}, CodeLockContended},
		{"pq check", &pq.Error{Code: SQLStateCheckViolation, Constraint: "ck_escrow_amount_positive"}, CodeValidation},
	}
	for _, tt := range tests {
		got, ok := FromPostgres(tt.err, "database error")
		if !ok {
			t.Fatalf("%s: expected mapping", tt.name)
		}
		if got.Code() != tt.want {
			t.Fatalf("%s: expected %s got %s", tt.name, tt.want, got.Code())
		}
	}
}

func TestFromPostgresIgnoresUnmappedErrors(t *testing.T) {
	if _, ok := FromPostgres(fmt.Errorf("plain"), "x"); ok {
		t.Fatalf("plain errors must not map")
	}
	if _, ok := FromPostgres(&pgconn.PgError{Code: "42P01"}, "x"); ok {
		t.Fatalf("unmapped sqlstate must not map")
	}
}

func TestFromPostgresKeepsConstraintForDetailedCodes(t *testing.T) {
	got, _ := FromPostgres(&pq.Error{Code: SQLStateForeignKeyViolation, Constraint: "fk_deliveries_provider"}, "bad reference")
	details, ok := got.Details().(map[string]any)
	if !ok || details["constraint"] != "fk_deliveries_provider" {
		t.Fatalf("expected constraint detail, got %v", got.Details())
	}

	conflict, _ := FromPostgres(&pq.Error{Code: SQLStateUniqueViolation, Constraint: "ux_payout_items"}, "dup")
	if conflict.Details() != nil {
		t.Fatalf("conflict details are not public and should be omitted")
	}
}

func TestLogFieldsIncludesPostgresDiagnostics(t *testing.T) {
	err := Wrap(CodeDependency, &pgconn.PgError{
		Code:           SQLStateUniqueViolation,
		ConstraintName: "ux_escrow_holds_order",
		TableName:      "escrow_holds",
	}, "insert hold")

	fields := LogFields(err)
	if fields["error_code"] != CodeDependency {
		t.Fatalf("unexpected code field %v", fields["error_code"])
	}
	if fields["pg_code"] != SQLStateUniqueViolation || fields["pg_table"] != "escrow_holds" {
		t.Fatalf("missing postgres fields: %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty postgres fields must be omitted")
	}
	if chain, ok := fields["error_chain"].([]string); !ok || len(chain) != 2 {
		t.Fatalf("expected two-link chain, got %v", fields["error_chain"])
	}
	if SQLState(err) != SQLStateUniqueViolation {
		t.Fatalf("unexpected sqlstate %q", SQLState(err))
	}
}
