// Package formatter turns a retrieval outcome into an LLM-ready context
// string in the query's language — the presentation stage between the
// Retriever and the Answer Generator. There is no teacher equivalent (the
// teacher's cmd/api returns raw JSON straight off the search service); this
// package is shaped after the "project a raw result into a presentation
// struct" style of cmd/api's Simple/output().
package formatter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/serializer"
	"github.com/ariel1441/hebrag/pkg/models"
)

// recordFieldOrder is the fixed rendering order for a per-record block:
// primary key, project, type id, status id, updater, creator, status date,
// area description, remarks, contact email.
var recordFieldOrder = []string{
	"requestid",
	"project",
	"typeid",
	"statusid",
	"updatedby",
	"createdby",
	"statusdate",
	"areacenter",
	"remarks",
	"contactemail",
}

// checklistFields pairs a similar-by-id match key (as matchChecklist in
// internal/retriever produces it) with the field whose label should prefix
// its checklist line.
var checklistFields = []struct {
	matchKey  string
	fieldName string
}{
	{"project", "project"},
	{"type", "typeid"},
	{"status", "statusid"},
	{"updater", "updatedby"},
}

// Formatter renders RetrievalOutcomes into context strings, truncating long
// free-text fields to the configured lengths.
type Formatter struct {
	labels         map[string]string
	truncateLimits map[string]int
	topN           int
}

// New builds a Formatter from the configured field tiers (for display
// labels) and truncation lengths.
func New(fields []config.FieldSpec, formatting config.Formatting) *Formatter {
	labels := make(map[string]string, len(fields))
	for _, f := range fields {
		labels[f.Name] = f.Label
	}
	return &Formatter{
		labels: labels,
		truncateLimits: map[string]int{
			"remarks":      formatting.RemarksTruncate,
			"areacenter":   formatting.AreaTruncate,
			"contactemail": formatting.ContactTruncate,
		},
		topN: formatting.TopN,
	}
}

// Format renders outcome into a context string specialized for parsed's
// query type: a count header, summary statistics, urgency bucketing, or a
// similar-by-id percentage/checklist, as §4F requires. now is the
// caller-supplied current time so urgency bucketing stays deterministic and
// testable.
func (f *Formatter) Format(outcome models.RetrievalOutcome, parsed models.ParsedQuery, lang config.LanguageSpec, now time.Time) string {
	var b strings.Builder

	switch parsed.QueryType {
	case models.QueryCount:
		fmt.Fprintf(&b, "%s: %d\n\n", lang.Format.CountHeader, outcome.TotalCount)
	case models.QuerySummarize:
		f.writeStats(&b, computeStats(outcome.Results, f.topN), lang)
	}

	for _, res := range outcome.Results {
		switch parsed.QueryType {
		case models.QueryUrgent:
			f.writeUrgentBlock(&b, res, lang, now)
		case models.QuerySimilar:
			f.writeSimilarBlock(&b, res, lang)
		default:
			f.writeRecordBlock(&b, res)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// writeRecordBlock emits a plain labeled-field block — the `find`/`general`
// rendering, and the base every other query type's block builds on.
func (f *Formatter) writeRecordBlock(b *strings.Builder, res models.RetrievalResult) {
	b.WriteString(f.renderFields(res.Record))
	b.WriteString("\n\n")
}

func (f *Formatter) writeUrgentBlock(b *strings.Builder, res models.RetrievalResult, lang config.LanguageSpec, now time.Time) {
	b.WriteString(f.renderFields(res.Record))
	if bucket := urgencyBucket(res.Record, now, lang.Format); bucket != "" {
		fmt.Fprintf(b, "%s%s", serializer.Separator, bucket)
	}
	b.WriteString("\n\n")
}

func (f *Formatter) writeSimilarBlock(b *strings.Builder, res models.RetrievalResult, lang config.LanguageSpec) {
	b.WriteString(f.renderFields(res.Record))
	fmt.Fprintf(b, "%s%s: %.0f%%", serializer.Separator, lang.Format.Similarity, res.RawSimilarity*100)
	for _, cf := range checklistFields {
		label := f.labels[cf.fieldName]
		if label == "" {
			label = cf.fieldName
		}
		mark := "✗"
		if res.Matches[cf.matchKey] {
			mark = "✓"
		}
		fmt.Fprintf(b, "%s%s %s", serializer.Separator, mark, label)
	}
	b.WriteString("\n\n")
}

func (f *Formatter) writeStats(b *strings.Builder, stats models.SummaryStats, lang config.LanguageSpec) {
	fmt.Fprintf(b, "%s: %d\n", lang.Format.TotalCount, stats.Total)
	writeBuckets(b, lang.Format.ByType, stats.ByType)
	writeBuckets(b, lang.Format.ByStatus, stats.ByStatus)
	writeBuckets(b, lang.Format.TopProjects, stats.TopProjects)
	writeBuckets(b, lang.Format.TopUpdaters, stats.TopUpdaters)
	b.WriteString("\n")
}

func writeBuckets(b *strings.Builder, header string, buckets []models.CountBucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", header)
	for _, bucket := range buckets {
		fmt.Fprintf(b, "  %s: %d\n", bucket.Label, bucket.Count)
	}
}

func (f *Formatter) renderFields(rec models.Record) string {
	var parts []string
	for _, name := range recordFieldOrder {
		label, ok := f.labels[name]
		if !ok {
			continue
		}
		val, ok := f.renderField(rec, name)
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", label, val))
	}
	return strings.Join(parts, serializer.Separator)
}

func (f *Formatter) renderField(rec models.Record, name string) (string, bool) {
	raw, ok := serializer.ResolveField(rec, name)
	if !ok {
		return "", false
	}
	val, ok := serializer.RenderValue(raw)
	if !ok {
		return "", false
	}
	if limit, capped := f.truncateLimits[name]; capped {
		val = truncateRunes(val, limit)
	}
	return val, true
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

// urgencyBucket computes the day bucket the LLM must not be asked to derive
// itself: the spec requires date arithmetic happen here, not in the prompt.
func urgencyBucket(rec models.Record, now time.Time, labels config.FormatLabels) string {
	raw, ok := serializer.ResolveField(rec, "statusdate")
	if !ok {
		return ""
	}
	date, ok := parseDate(raw)
	if !ok {
		return ""
	}
	today := truncateToDay(now)
	due := truncateToDay(date)
	days := int(due.Sub(today).Hours() / 24)

	switch {
	case days < 0:
		return labels.Overdue
	case days == 0:
		return labels.Today
	case days <= 3:
		return labels.VeryUrgent
	case days <= 7:
		return labels.UrgentSoon
	default:
		return labels.NotUrgent
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// computeStats accumulates total/by-type/by-status/top-project/top-updater
// counts with github.com/wk8/go-ordered-map/v2, so ties break in first-seen
// order when sorted by count — the reproducibility the spec's property test
// over repeated retrieval sets requires.
func computeStats(records []models.RetrievalResult, topN int) models.SummaryStats {
	byType := orderedmap.New[string, int]()
	byStatus := orderedmap.New[string, int]()
	byProject := orderedmap.New[string, int]()
	byUpdater := orderedmap.New[string, int]()

	for _, res := range records {
		bumpField(byType, res.Record, "typeid")
		bumpField(byStatus, res.Record, "statusid")
		bumpField(byProject, res.Record, "project")
		bumpField(byUpdater, res.Record, "updatedby")
	}

	return models.SummaryStats{
		Total:       len(records),
		ByType:      bucketsFrom(byType, 0),
		ByStatus:    bucketsFrom(byStatus, 0),
		TopProjects: bucketsFrom(byProject, topN),
		TopUpdaters: bucketsFrom(byUpdater, topN),
	}
}

func bumpField(om *orderedmap.OrderedMap[string, int], rec models.Record, name string) {
	raw, ok := serializer.ResolveField(rec, name)
	if !ok {
		return
	}
	val, ok := serializer.RenderValue(raw)
	if !ok {
		return
	}
	if cur, ok := om.Get(val); ok {
		om.Set(val, cur+1)
	} else {
		om.Set(val, 1)
	}
}

func bucketsFrom(om *orderedmap.OrderedMap[string, int], limit int) []models.CountBucket {
	buckets := make([]models.CountBucket, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		buckets = append(buckets, models.CountBucket{Label: pair.Key, Count: pair.Value})
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Count > buckets[j].Count })
	if limit > 0 && len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets
}
