// Package parser extracts a structured ParsedQuery from free Hebrew query
// text: intent, entities, query type, target fields and logical operator,
// all driven by the per-language pattern tables in internal/config. Nothing
// in the teacher repo does natural-language parsing; the pattern-table
// shape is grounded on internal/config's own YAML-layered loading, and
// capture-with-lookahead uses github.com/dlclark/regexp2 since stop-token
// boundaries need a zero-width lookahead that stdlib RE2 cannot express.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/pkg/models"
)

// Parser extracts ParsedQuery values for one configured language.
type Parser struct {
	lang config.LanguageSpec
}

// New builds a Parser from a language's pattern tables.
func New(lang config.LanguageSpec) *Parser {
	return &Parser{lang: lang}
}

// Parse is total: every input, however unstructured, yields a usable
// ParsedQuery (general intent, find query type, empty entity set).
func (p *Parser) Parse(text string) models.ParsedQuery {
	trimmed := strings.TrimSpace(text)
	tokens := strings.Fields(trimmed)

	entities := map[models.EntityType]models.Entity{}

	if e, ok := p.extractFreeText(trimmed, p.lang.PersonCues, models.EntityPersonName); ok {
		entities[models.EntityPersonName] = e
	}
	if e, ok := p.extractFreeText(trimmed, p.lang.ProjectCues, models.EntityProjectName); ok {
		entities[models.EntityProjectName] = e
	}
	if e, ok := p.extractNumeric(trimmed, p.lang.TypeIDCues); ok {
		e.Type = models.EntityTypeID
		entities[models.EntityTypeID] = e
	}
	if e, ok := p.extractNumeric(trimmed, p.lang.StatusIDCues); ok {
		e.Type = models.EntityStatusID
		entities[models.EntityStatusID] = e
	}
	if e, ok := p.extractRequestID(trimmed); ok {
		entities[models.EntityRequestID] = e
	}
	if containsToken(tokens, p.lang.UrgentKeywords) {
		entities[models.EntityUrgency] = models.Entity{Type: models.EntityUrgency, Bool: true}
	}

	intent := p.classifyIntent(trimmed, entities)
	queryType := p.classifyQueryType(trimmed, tokens, entities)
	operator := p.classifyOperator(tokens)
	targetFields := targetFieldsFor(intent)

	return models.ParsedQuery{
		Intent:       intent,
		Entities:     entities,
		QueryType:    queryType,
		TargetFields: targetFields,
		Operator:     operator,
		OriginalText: text,
	}
}

// extractFreeText tries each cue phrase in order and returns the first
// successful capture, stripping a single relation-marker prefix per rule 3.
func (p *Parser) extractFreeText(text string, cues []string, entityType models.EntityType) (models.Entity, bool) {
	for _, cue := range cues {
		re, err := p.nameCaptureRegex(cue)
		if err != nil {
			continue
		}
		m, err := re.FindStringMatch(text)
		if err != nil || m == nil || m.GroupCount() < 2 {
			continue
		}
		captured := strings.TrimSpace(m.GroupByNumber(1).String())
		if captured == "" {
			continue
		}
		captured = p.stripRelationMarker(captured)
		if captured == "" {
			continue
		}
		return models.Entity{Type: entityType, Text: captured}, true
	}
	return models.Entity{}, false
}

// nameCaptureRegex builds a lookahead-bounded capture: everything after the
// cue phrase up to (but not including) the next stop token or end of
// string. The capture is non-greedy so it stops at the first boundary.
func (p *Parser) nameCaptureRegex(cue string) (*regexp2.Regexp, error) {
	boundary := append(append([]string{}, p.lang.StopTokens...), p.lang.AndTokens...)
	boundary = append(boundary, p.lang.OrTokens...)

	var pattern string
	if len(boundary) == 0 {
		pattern = fmt.Sprintf(`%s\s+(\S+(?:\s+\S+)*?)(?=$)`, regexp.QuoteMeta(cue))
	} else {
		alt := make([]string, len(boundary))
		for i, b := range boundary {
			alt[i] = regexp.QuoteMeta(b)
		}
		pattern = fmt.Sprintf(`%s\s+(\S+(?:\s+\S+)*?)(?=\s+(?:%s)(?:\s|$)|$)`,
			regexp.QuoteMeta(cue), strings.Join(alt, "|"))
	}
	return regexp2.Compile(pattern, regexp2.None)
}

// stripRelationMarker removes a one-rune relation-marker prefix when doing
// so leaves a plausible name (length >= 2 runes after stripping).
func (p *Parser) stripRelationMarker(captured string) string {
	runes := []rune(captured)
	if len(runes) < 3 {
		return captured
	}
	prefix := string(runes[0])
	for _, marker := range p.lang.RelationMarkers {
		if marker == prefix {
			stripped := string(runes[1:])
			if len([]rune(stripped)) >= 2 {
				return stripped
			}
		}
	}
	return captured
}

// extractNumeric captures the integer literal immediately following a cue
// phrase (type_id/status_id).
func (p *Parser) extractNumeric(text string, cues []string) (models.Entity, bool) {
	for _, cue := range cues {
		pattern := fmt.Sprintf(`%s\s+(\d+)`, regexp.QuoteMeta(cue))
		re, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			continue
		}
		m, err := re.FindStringMatch(text)
		if err != nil || m == nil || m.GroupCount() < 2 {
			continue
		}
		n, err := strconv.Atoi(m.GroupByNumber(1).String())
		if err != nil {
			continue
		}
		return models.Entity{Int: n}, true
	}
	return models.Entity{}, false
}

// extractRequestID captures an opaque id token following a similarity cue
// phrase ("similar to <id>").
func (p *Parser) extractRequestID(text string) (models.Entity, bool) {
	for _, cue := range p.lang.SimilarCues {
		pattern := fmt.Sprintf(`%s\s+(\S+)`, regexp.QuoteMeta(cue))
		re, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			continue
		}
		m, err := re.FindStringMatch(text)
		if err != nil || m == nil || m.GroupCount() < 2 {
			continue
		}
		id := strings.TrimSpace(m.GroupByNumber(1).String())
		if id == "" {
			continue
		}
		return models.Entity{Type: models.EntityRequestID, Text: id}, true
	}
	return models.Entity{}, false
}

// classifyIntent returns the first matching intent cue, falling back to
// whichever entity type was actually extracted, and finally to general.
func (p *Parser) classifyIntent(text string, entities map[models.EntityType]models.Entity) models.Intent {
	for _, cue := range p.lang.IntentCues {
		if strings.Contains(text, cue.Phrase) {
			if intent, ok := intentFromTarget(cue.Target); ok {
				return intent
			}
		}
	}

	switch {
	case entities[models.EntityPersonName].Text != "":
		return models.IntentPerson
	case entities[models.EntityProjectName].Text != "":
		return models.IntentProject
	case hasEntity(entities, models.EntityTypeID):
		return models.IntentType
	case hasEntity(entities, models.EntityStatusID):
		return models.IntentStatus
	case hasEntity(entities, models.EntityUrgency):
		return models.IntentUrgency
	default:
		return models.IntentGeneral
	}
}

func intentFromTarget(target string) (models.Intent, bool) {
	switch target {
	case "person":
		return models.IntentPerson, true
	case "project":
		return models.IntentProject, true
	case "type":
		return models.IntentType, true
	case "status":
		return models.IntentStatus, true
	case "date":
		return models.IntentDate, true
	case "urgency":
		return models.IntentUrgency, true
	default:
		return "", false
	}
}

// classifyQueryType picks the query's orthogonal shape. Similar-by-id
// (an explicit request_id anchor) takes precedence over the softer
// answer-retrieval cues, since it has a concrete target to compare against.
func (p *Parser) classifyQueryType(text string, tokens []string, entities map[models.EntityType]models.Entity) models.QueryType {
	switch {
	case containsToken(tokens, p.lang.CountKeywords) || substringAny(text, p.lang.CountKeywords):
		return models.QueryCount
	case substringAny(text, p.lang.SummaryKeywords):
		return models.QuerySummarize
	case hasEntity(entities, models.EntityRequestID):
		return models.QuerySimilar
	case substringAny(text, p.lang.AnswerCues):
		return models.QueryAnswerRetrieval
	case hasEntity(entities, models.EntityUrgency):
		return models.QueryUrgent
	default:
		return models.QueryFind
	}
}

// classifyOperator defaults to AND; an OR token as its own whitespace-
// delimited token switches to OR. Substrings inside other tokens never
// trigger the switch.
func (p *Parser) classifyOperator(tokens []string) models.LogicalOperator {
	if containsToken(tokens, p.lang.OrTokens) {
		return models.OperatorOR
	}
	return models.OperatorAND
}

func targetFieldsFor(intent models.Intent) []string {
	switch intent {
	case models.IntentPerson:
		return []string{"updatedby", "createdby", "responsibleemployee", "contactemail"}
	case models.IntentProject:
		return []string{"project", "description"}
	case models.IntentType:
		return []string{"typeid"}
	case models.IntentStatus:
		return []string{"statusid"}
	case models.IntentDate:
		return []string{"statusdate"}
	case models.IntentUrgency:
		return []string{"urgent"}
	default:
		return []string{"description", "remarks"}
	}
}

func hasEntity(entities map[models.EntityType]models.Entity, t models.EntityType) bool {
	_, ok := entities[t]
	return ok
}

// containsToken reports whether any candidate appears as its own
// whitespace-delimited token, never as a substring of a larger token.
func containsToken(tokens []string, candidates []string) bool {
	if len(candidates) == 0 {
		return false
	}
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

func substringAny(text string, candidates []string) bool {
	for _, c := range candidates {
		if c != "" && strings.Contains(text, c) {
			return true
		}
	}
	return false
}
