package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariel1441/hebrag/pkg/models"
)

// QueryOpts carries every predicate the Retriever's three-layer composition
// (§4E) can contribute: structured filters over requests, textual
// substrings over the joined person/project columns, and the similarity
// floor that both Query and Count must apply identically.
type QueryOpts struct {
	TypeID   *int
	StatusID *int
	DateFrom *time.Time
	DateTo   *time.Time

	// PersonSubstr/ProjectSubstr are matched, case-insensitively, against
	// the relevant joined requests columns.
	PersonSubstr  string
	ProjectSubstr string

	Operator            models.LogicalOperator
	SimilarityThreshold float64

	// ExcludeRecordID removes one record from the candidate set
	// (similar-by-id never returns the anchor record).
	ExcludeRecordID string
}

// toSQL builds the WHERE fragment both Query and Count share, starting
// parameter numbering at startIdx. It returns the fragment, the ordered
// argument list, and the next free parameter index.
func (o QueryOpts) toSQL(startIdx int) (string, []any, int) {
	idx := startIdx
	var args []any

	var structured []string
	if o.TypeID != nil {
		structured = append(structured, fmt.Sprintf("type_id = $%d", idx))
		args = append(args, *o.TypeID)
		idx++
	}
	if o.StatusID != nil {
		structured = append(structured, fmt.Sprintf("status_id = $%d", idx))
		args = append(args, *o.StatusID)
		idx++
	}
	if o.DateFrom != nil {
		structured = append(structured, fmt.Sprintf("status_date >= $%d", idx))
		args = append(args, *o.DateFrom)
		idx++
	}
	if o.DateTo != nil {
		structured = append(structured, fmt.Sprintf("status_date <= $%d", idx))
		args = append(args, *o.DateTo)
		idx++
	}

	var textual []string
	if o.PersonSubstr != "" {
		pattern := likePattern(o.PersonSubstr)
		textual = append(textual, fmt.Sprintf(
			"(updater ILIKE $%d ESCAPE '\\' OR creator ILIKE $%d ESCAPE '\\' OR responsible_employee ILIKE $%d ESCAPE '\\')",
			idx, idx, idx))
		args = append(args, pattern)
		idx++
	}
	if o.ProjectSubstr != "" {
		pattern := likePattern(o.ProjectSubstr)
		textual = append(textual, fmt.Sprintf("project ILIKE $%d ESCAPE '\\'", idx))
		args = append(args, pattern)
		idx++
	}

	predicates := append(append([]string{}, structured...), textual...)

	var whole string
	switch {
	case len(predicates) == 0:
		whole = "TRUE"
	case o.Operator == models.OperatorOR:
		whole = "(" + strings.Join(predicates, " OR ") + ")"
	default:
		whole = "(" + strings.Join(predicates, " AND ") + ")"
	}

	if o.SimilarityThreshold > 0 {
		whole += fmt.Sprintf(" AND similarity >= $%d", idx)
		args = append(args, o.SimilarityThreshold)
		idx++
	}
	if o.ExcludeRecordID != "" {
		whole += fmt.Sprintf(" AND record_id <> $%d", idx)
		args = append(args, o.ExcludeRecordID)
		idx++
	}

	return whole, args, idx
}

// likePattern wraps an arbitrary fragment into a substring ILIKE pattern,
// escaping its own literal '%'/'_' first so a field value containing those
// characters can't change the match shape.
func likePattern(fragment string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(fragment)
	return "%" + escaped + "%"
}
