package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/pkg/models"
)

func testLang() config.LanguageSpec {
	return config.LanguageSpec{
		IntentCues: []config.CuePattern{
			{Phrase: "מאת", Target: "person"},
			{Phrase: "בפרויקט", Target: "project"},
			{Phrase: "מסוג", Target: "type"},
			{Phrase: "בסטטוס", Target: "status"},
		},
		PersonCues:      []string{"מאת", "של", "מ"},
		ProjectCues:     []string{"בפרויקט", "פרויקט"},
		TypeIDCues:      []string{"מסוג"},
		StatusIDCues:    []string{"בסטטוס"},
		SimilarCues:     []string{"דומה ל"},
		AnswerCues:      []string{"מה הפתרון"},
		StopTokens:      []string{"מסוג", "בסטטוס", "בפרויקט", "דחוף"},
		RelationMarkers: []string{"מ", "ב", "ל", "ש"},
		CountKeywords:   []string{"כמה"},
		SummaryKeywords: []string{"סכם"},
		UrgentKeywords:  []string{"דחוף"},
		AndTokens:       []string{"וגם"},
		OrTokens:        []string{"או"},
	}
}

func TestParse_ExtractsPersonName(t *testing.T) {
	p := New(testLang())
	q := p.Parse("פניות מאת דני מסוג 3")
	require.Contains(t, q.Entities, models.EntityPersonName)
	assert.Equal(t, "דני", q.Entities[models.EntityPersonName].Text)
	assert.Equal(t, 3, q.Entities[models.EntityTypeID].Int)
}

func TestParse_ExtractsMultipleEntities(t *testing.T) {
	p := New(testLang())
	q := p.Parse("פניות מאת דני בסטטוס 2")
	assert.Equal(t, "דני", q.Entities[models.EntityPersonName].Text)
	assert.Equal(t, 2, q.Entities[models.EntityStatusID].Int)
}

func TestParse_PersonExtractionStopsAtStopToken(t *testing.T) {
	p := New(testLang())
	q := p.Parse("מאת דני כהן מסוג 1")
	assert.Equal(t, "דני כהן", q.Entities[models.EntityPersonName].Text)
}

func TestParse_RelationMarkerStripped(t *testing.T) {
	p := New(testLang())
	q := p.Parse("מאת מדני")
	e, ok := q.Entities[models.EntityPersonName]
	require.True(t, ok)
	assert.Equal(t, "דני", e.Text)
}

func TestParse_OperatorDefaultsToAND(t *testing.T) {
	p := New(testLang())
	q := p.Parse("מאת דני מסוג 1")
	assert.Equal(t, models.OperatorAND, q.Operator)
}

func TestParse_OperatorORFromSeparateToken(t *testing.T) {
	p := New(testLang())
	q := p.Parse("מאת דני או מסוג 1")
	assert.Equal(t, models.OperatorOR, q.Operator)
}

func TestParse_ORSubstringInsideWordDoesNotTrigger(t *testing.T) {
	p := New(testLang())
	// "אורח" contains "או" as a substring but is not the standalone token.
	q := p.Parse("מאת אורח")
	assert.Equal(t, models.OperatorAND, q.Operator)
}

func TestParse_CountQueryType(t *testing.T) {
	p := New(testLang())
	q := p.Parse("כמה פניות מסוג 1")
	assert.Equal(t, models.QueryCount, q.QueryType)
}

func TestParse_SimilarByRequestID(t *testing.T) {
	p := New(testLang())
	q := p.Parse("דומה ל REQ-42")
	assert.Equal(t, models.QuerySimilar, q.QueryType)
	assert.Equal(t, "REQ-42", q.Entities[models.EntityRequestID].Text)
}

func TestParse_UrgentEntityAndQueryType(t *testing.T) {
	p := New(testLang())
	q := p.Parse("פניות דחוף")
	assert.True(t, q.Entities[models.EntityUrgency].Bool)
	assert.Equal(t, models.QueryUrgent, q.QueryType)
}

func TestParse_AnswerRetrievalWhenNoExplicitID(t *testing.T) {
	p := New(testLang())
	q := p.Parse("מה הפתרון במקרה כזה")
	assert.Equal(t, models.QueryAnswerRetrieval, q.QueryType)
}

func TestParse_DefaultsToGeneralFind(t *testing.T) {
	p := New(testLang())
	q := p.Parse("טקסט חופשי ללא תבניות")
	assert.Equal(t, models.IntentGeneral, q.Intent)
	assert.Equal(t, models.QueryFind, q.QueryType)
	assert.Empty(t, q.Entities)
}

func TestParse_EmptyInputIsTotal(t *testing.T) {
	p := New(testLang())
	q := p.Parse("")
	assert.Equal(t, models.IntentGeneral, q.Intent)
	assert.Equal(t, models.QueryFind, q.QueryType)
}

func TestParse_TargetFieldsByIntent(t *testing.T) {
	p := New(testLang())
	q := p.Parse("מאת דני")
	assert.Contains(t, q.TargetFields, "updatedby")
}
