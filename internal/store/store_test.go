package store

import (
	"strings"
	"testing"
	"time"

	"github.com/ariel1441/hebrag/pkg/models"
)

func TestQueryOpts_ToSQL_NoPredicatesIsTrue(t *testing.T) {
	where, args, next := QueryOpts{}.toSQL(2)
	if where != "TRUE" {
		t.Errorf("expected TRUE, got %q", where)
	}
	if len(args) != 0 || next != 2 {
		t.Errorf("expected no args and unchanged index, got %v next=%d", args, next)
	}
}

func TestQueryOpts_ToSQL_StructuredAND(t *testing.T) {
	typeID, statusID := 3, 7
	opts := QueryOpts{TypeID: &typeID, StatusID: &statusID}
	where, args, next := opts.toSQL(2)
	if !strings.Contains(where, "type_id = $2") || !strings.Contains(where, "status_id = $3") {
		t.Errorf("expected AND-joined structured predicates, got %q", where)
	}
	if !strings.Contains(where, " AND ") {
		t.Errorf("expected AND join, got %q", where)
	}
	if len(args) != 2 || next != 4 {
		t.Errorf("expected 2 args and next=4, got %v next=%d", args, next)
	}
}

func TestQueryOpts_ToSQL_ORJoinsStructuredAndTextual(t *testing.T) {
	typeID := 3
	opts := QueryOpts{TypeID: &typeID, PersonSubstr: "דני", Operator: models.OperatorOR}
	where, _, _ := opts.toSQL(2)
	if !strings.Contains(where, " OR ") {
		t.Errorf("expected OR join for mixed predicate classes, got %q", where)
	}
}

func TestQueryOpts_ToSQL_SharedByCountAndQuery(t *testing.T) {
	// The counting invariant depends on Query and Count building their
	// WHERE clause from the exact same call; this just pins that toSQL is
	// a pure, deterministic function of its receiver.
	opts := QueryOpts{ProjectSubstr: "תשתיות", SimilarityThreshold: 0.4}
	w1, a1, n1 := opts.toSQL(2)
	w2, a2, n2 := opts.toSQL(2)
	if w1 != w2 || n1 != n2 || len(a1) != len(a2) {
		t.Errorf("expected toSQL to be deterministic, got (%q,%v,%d) vs (%q,%v,%d)", w1, a1, n1, w2, a2, n2)
	}
}

func TestQueryOpts_ToSQL_ExcludeRecordID(t *testing.T) {
	opts := QueryOpts{ExcludeRecordID: "REQ-1"}
	where, args, _ := opts.toSQL(2)
	if !strings.Contains(where, "record_id <> $2") {
		t.Errorf("expected exclusion clause, got %q", where)
	}
	if args[0] != "REQ-1" {
		t.Errorf("expected exclusion arg REQ-1, got %v", args[0])
	}
}

func TestQueryOpts_ToSQL_ThresholdAppended(t *testing.T) {
	opts := QueryOpts{SimilarityThreshold: 0.5}
	where, args, _ := opts.toSQL(2)
	if !strings.Contains(where, "similarity >= $2") {
		t.Errorf("expected threshold clause, got %q", where)
	}
	if args[0] != 0.5 {
		t.Errorf("expected threshold arg 0.5, got %v", args[0])
	}
}

func TestQueryOpts_ToSQL_DateRange(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	opts := QueryOpts{DateFrom: &from, DateTo: &to}
	where, args, _ := opts.toSQL(2)
	if !strings.Contains(where, "status_date >= $2") || !strings.Contains(where, "status_date <= $3") {
		t.Errorf("expected date range predicates, got %q", where)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %d", len(args))
	}
}

func TestLikePattern_EscapesWildcards(t *testing.T) {
	got := likePattern("50%_off")
	want := `%50\%\_off%`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestLikePattern_WrapsInWildcards(t *testing.T) {
	got := likePattern("דני")
	if !strings.HasPrefix(got, "%") || !strings.HasSuffix(got, "%") {
		t.Errorf("expected wrapped pattern, got %q", got)
	}
}
