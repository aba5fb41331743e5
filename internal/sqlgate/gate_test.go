package sqlgate

import (
	"strings"
	"testing"
)

func TestValidateAdmitsPlainSelects(t *testing.T) {
	statements := []string{
		"SELECT 1",
		"SELECT * FROM orders;",
		"select city, count(*) from orders group by city",
		"-- total revenue\nSELECT SUM(amount) FROM orders",
		"SELECT * FROM events WHERE note = 'closed; reopened'",
		"SELECT created_at, updated_at FROM orders",
	}
	for _, stmt := range statements {
		ok, reason := Validate(stmt)
		if !ok {
			t.Fatalf("Validate(%q) rejected: %s", stmt, reason)
		}
	}
}

func TestValidateRejectsMutations(t *testing.T) {
	statements := []string{
		"INSERT INTO orders VALUES (1)",
		"UPDATE orders SET amount = 0",
		"DELETE FROM orders",
		"DROP TABLE orders",
		"TRUNCATE orders",
		"CREATE TABLE evil (id INT)",
		"GRANT ALL ON orders TO public",
		"CALL do_things()",
		"SELECT * FROM orders; DROP TABLE orders",
	}
	for _, stmt := range statements {
		if ok, _ := Validate(stmt); ok {
			t.Fatalf("Validate(%q) admitted a mutating statement", stmt)
		}
	}
}

func TestValidateRejectsNonSelect(t *testing.T) {
	if ok, _ := Validate("WITH x AS (SELECT 1) SELECT * FROM x"); ok {
		// CTEs start with WITH, which the gate does not admit.
		t.Fatal("expected WITH statement to be rejected")
	}
	if ok, reason := Validate("EXPLAIN SELECT 1"); ok {
		t.Fatalf("expected EXPLAIN to be rejected, got admit (%s)", reason)
	}
}

func TestValidateRejectsEmptyAndCommentOnly(t *testing.T) {
	for _, stmt := range []string{"", "   ", "-- just a comment", "--a\n--b"} {
		if ok, _ := Validate(stmt); ok {
			t.Fatalf("Validate(%q) admitted an empty statement", stmt)
		}
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	ok, reason := Validate("SELECT 1; SELECT 2;")
	if ok {
		t.Fatal("expected multi-statement rejection")
	}
	if !strings.Contains(reason, "multiple") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestValidateReasonsFollowCheckOrder(t *testing.T) {
	ok, reason := Validate("INSERT INTO orders VALUES (1)")
	if ok {
		t.Fatal("expected INSERT to be rejected")
	}
	if !strings.Contains(reason, "only SELECT") {
		t.Fatalf("non-SELECT statement should fail the prefix check first, got %q", reason)
	}

	ok, reason = Validate("SELECT * FROM orders; DROP TABLE orders")
	if ok {
		t.Fatal("expected trailing DROP to be rejected")
	}
	if !strings.Contains(reason, "DROP") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestValidateKeywordMatchingIsWordBounded(t *testing.T) {
	ok, reason := Validate("SELECT updates, insertions, dropped FROM change_log")
	if !ok {
		t.Fatalf("column names tripped the gate: %s", reason)
	}
}
