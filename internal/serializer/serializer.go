// Package serializer turns a heterogeneous record into one or more
// weighted, labeled text chunks suitable for embedding — the indexing-side
// counterpart to the teacher's naive per-file chunker in
// internal/indexer/indexer.go, generalized from raw file bytes to
// tier-weighted field concatenation.
package serializer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/pkg/models"
)

// Separator joins labeled field tokens in a serialized document; the
// retriever's boost calculator splits chunk text back into these segments
// to check whether an entity match falls inside a target field's label.
const Separator = " | "

// Serializer turns records into chunks according to a configured field
// tier table and chunk size/overlap.
type Serializer struct {
	fields       []config.FieldSpec
	chunkSize    int
	chunkOverlap int
}

// New builds a Serializer from the field tiers and retrieval tuning in cfg.
func New(fields []config.FieldSpec, r config.Retrieval) *Serializer {
	return &Serializer{
		fields:       fields,
		chunkSize:    r.ChunkSize,
		chunkOverlap: r.ChunkOverlap,
	}
}

// Serialize produces the chunks for one record, or skipped=true when the
// record had no serializable fields.
func (s *Serializer) Serialize(record models.Record) (chunks []models.Chunk, skipped bool) {
	recordID, _ := record.RequestID()

	doc, provenance := s.buildDocument(record)
	if strings.TrimSpace(doc) == "" {
		return nil, true
	}

	texts := s.chunkText(doc)
	chunks = make([]models.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, models.Chunk{
			RecordID:   recordID,
			ChunkIndex: i,
			Text:       t,
			Metadata: map[string]any{
				"fields": provenance,
			},
		})
	}
	return chunks, false
}

// buildDocument renders the tier-ordered, weight-repeated labeled tokens and
// returns the list of field names that actually contributed a token.
func (s *Serializer) buildDocument(record models.Record) (string, []string) {
	lookup := buildLookup(record)

	var tokens []string
	var contributed []string

	ordered := make([]config.FieldSpec, len(s.fields))
	copy(ordered, s.fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier.Weight() > ordered[j].Tier.Weight()
	})

	for _, f := range ordered {
		raw, ok := resolveField(lookup, f.Name)
		if !ok {
			continue
		}
		rendered, ok := renderValue(raw)
		if !ok {
			continue
		}
		token := fmt.Sprintf("%s: %s", f.Label, rendered)

		weight := f.Tier.Weight()
		reps := int(math.Round(weight))
		if reps < 1 && weight > 0 {
			reps = 1 // auxiliary (0.5) still appears once; repetition only distinguishes tiers >=1
		}
		for i := 0; i < reps; i++ {
			tokens = append(tokens, token)
		}
		contributed = append(contributed, f.Name)
	}

	return strings.Join(tokens, Separator), contributed
}

// renderValue stringifies a field's value deterministically, or reports
// false for values that count as missing.
func renderValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case bool:
		if val {
			return "true", true
		}
		return "false", true
	case int:
		return fmt.Sprintf("%d", val), true
	case int32:
		return fmt.Sprintf("%d", val), true
	case int64:
		return fmt.Sprintf("%d", val), true
	case float32:
		return formatFloat(float64(val)), true
	case float64:
		return formatFloat(val), true
	case [2]float64:
		return fmt.Sprintf("%s,%s", formatFloat(val[0]), formatFloat(val[1])), true
	case map[string]any:
		x, xok := val["x"]
		y, yok := val["y"]
		if xok && yok {
			return fmt.Sprintf("%v,%v", x, y), true
		}
		return "", false
	default:
		s := fmt.Sprintf("%v", val)
		s = strings.TrimSpace(s)
		if s == "" {
			return "", false
		}
		return s, true
	}
}

// formatFloat renders a float with a fixed, locale-independent
// representation, stripping a trailing ".0" for whole numbers.
func formatFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%g", f)
}

// buildLookup indexes a record's keys under three increasingly tolerant
// normal forms, so resolveField can try exact, then case-insensitive, then
// BOM/separator-normalized matching without rescanning the record.
type lookup struct {
	exact    map[string]any
	lowerKey map[string]any
	foldKey  map[string]any
}

func buildLookup(record models.Record) lookup {
	l := lookup{
		exact:    make(map[string]any, len(record)),
		lowerKey: make(map[string]any, len(record)),
		foldKey:  make(map[string]any, len(record)),
	}
	for k, v := range record {
		l.exact[k] = v
		lk := strings.ToLower(k)
		if _, exists := l.lowerKey[lk]; !exists {
			l.lowerKey[lk] = v
		}
		fk := foldKey(k)
		if _, exists := l.foldKey[fk]; !exists {
			l.foldKey[fk] = v
		}
	}
	return l
}

// foldKey strips a UTF-8 BOM and collapses '_'/'-' so "Status_Date",
// "status-date", and "statusdate" all resolve to one configured field.
func foldKey(k string) string {
	k = strings.TrimPrefix(k, "﻿")
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, "-", "")
	return k
}

func resolveField(l lookup, name string) (any, bool) {
	if v, ok := l.exact[name]; ok {
		return v, true
	}
	if v, ok := l.lowerKey[strings.ToLower(name)]; ok {
		return v, true
	}
	if v, ok := l.foldKey[foldKey(name)]; ok {
		return v, true
	}
	return nil, false
}

// chunkText splits doc into chunkSize-rune windows with chunkOverlap runes
// of overlap, always yielding at least one chunk for a non-empty document.
func (s *Serializer) chunkText(doc string) []string {
	runes := []rune(doc)
	n := len(runes)
	size := s.chunkSize
	if size <= 0 {
		size = 512
	}
	overlap := s.chunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	if n <= size {
		return []string{doc}
	}

	stride := size - overlap
	count := int(math.Ceil(float64(n-overlap) / float64(stride)))
	if count < 1 {
		count = 1
	}

	chunks := make([]string, 0, count)
	for start := 0; start < n; start += stride {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return chunks
}

// ResolveField looks up a field by name in record, tolerant of the same
// exact/case-insensitive/separator-folded key variants buildDocument uses —
// exposed for callers (e.g. the formatter) that need to read a single field
// without serializing the whole record.
func ResolveField(record models.Record, name string) (any, bool) {
	return resolveField(buildLookup(record), name)
}

// RenderValue stringifies a field value with the same rules buildDocument
// applies when emitting "Label: value" tokens.
func RenderValue(v any) (string, bool) {
	return renderValue(v)
}

// FieldNames returns the configured field names in tier order, descending
// by weight, keeping the configured order within a tier.
func FieldNames(fields []config.FieldSpec) []string {
	sorted := make([]config.FieldSpec, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Tier.Weight() > sorted[j].Tier.Weight()
	})
	names := make([]string, len(sorted))
	for i, f := range sorted {
		names[i] = f.Name
	}
	return names
}
