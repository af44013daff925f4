package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/rerrors"
	"github.com/ariel1441/hebrag/pkg/models"
)

// fakeClient is an ai.Client double that records the prompt/opts it was
// called with and returns a canned answer or error.
type fakeClient struct {
	answer    string
	err       error
	lastOpts  ai.GenerateOptions
	lastUser  string
	callCount int
}

func (f *fakeClient) Embed(text string) ([]float32, error)       { return nil, nil }
func (f *fakeClient) EmbedBatch(texts []string) ([][]float32, error) { return nil, nil }
func (f *fakeClient) Dim() int                                   { return 0 }
func (f *fakeClient) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	f.callCount++
	f.lastUser = prompt
	f.lastOpts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func testDecoding() config.Decoding {
	return config.Decoding{
		GPUTemperature: 0.7,
		GPUMaxTokens:   500,
		CPUMaxTokens:   200,
	}
}

func newTestGenerator(t *testing.T, client ai.Client, hasGPU bool) *Generator {
	t.Helper()
	enc, err := tiktoken.GetEncoding(encodingName)
	require.NoError(t, err)
	return &Generator{
		client:   client,
		decoding: testDecoding(),
		enc:      enc,
		hasGPU:   func() bool { return hasGPU },
	}
}

func TestSelectProfile_GPUUsesTemperatureSamplingAndLargerBudget(t *testing.T) {
	g := newTestGenerator(t, &fakeClient{}, true)
	p := g.SelectProfile()
	assert.Equal(t, 0.7, p.Temperature)
	assert.Equal(t, 500, p.MaxTokens)
}

func TestSelectProfile_CPUUsesGreedyDecodingAndSmallerBudget(t *testing.T) {
	g := newTestGenerator(t, &fakeClient{}, false)
	p := g.SelectProfile()
	assert.Equal(t, 0.0, p.Temperature)
	assert.Equal(t, 200, p.MaxTokens)
}

func TestGenerate_EmbedsContextAndQueryTypeInstruction(t *testing.T) {
	client := &fakeClient{answer: "זוהי התשובה"}
	g := newTestGenerator(t, client, false)

	parsed := models.ParsedQuery{QueryType: models.QueryCount, OriginalText: "כמה פניות יש?"}
	answer, err := g.Generate(context.Background(), "מספר התוצאות: 7", parsed)

	require.NoError(t, err)
	assert.Equal(t, "זוהי התשובה", answer)
	assert.Contains(t, client.lastUser, "מספר התוצאות: 7")
	assert.Contains(t, client.lastUser, "כמה פניות יש?")
	assert.Contains(t, client.lastOpts.SystemPrompt, queryTypeInstruction[models.QueryCount])
}

func TestGenerate_WrapsClientFailureAsModelUnavailable(t *testing.T) {
	client := &fakeClient{err: errors.New("loader OOM")}
	g := newTestGenerator(t, client, false)

	_, err := g.Generate(context.Background(), "context", models.ParsedQuery{QueryType: models.QueryFind})
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.ErrModelUnavailable))
}

func TestGenerate_TrimsTrailingWhitespaceWithoutTouchingNumbers(t *testing.T) {
	client := &fakeClient{answer: "  יש 42 פניות דחופות  "}
	g := newTestGenerator(t, client, false)

	answer, err := g.Generate(context.Background(), "ctx", models.ParsedQuery{QueryType: models.QueryFind})
	require.NoError(t, err)
	assert.Equal(t, "יש 42 פניות דחופות", answer)
}

func TestFitBudget_NeverDropsTheLeadingHeaderBlock(t *testing.T) {
	client := &fakeClient{}
	g := newTestGenerator(t, client, false)

	header := "מספר התוצאות: 100"
	var records []string
	for i := 0; i < 50; i++ {
		records = append(records, strings.Repeat("תיאור: תקלה חוזרת ונשנית בציוד התקשורת. ", 20))
	}
	contextText := header + "\n\n" + strings.Join(records, "\n\n")

	trimmed := g.fitBudget(contextText, "sys", "question", DecodingProfile{MaxTokens: 200})
	assert.True(t, strings.HasPrefix(trimmed, header), "header block must survive trimming")
	assert.Less(t, len(trimmed), len(contextText), "oversized context must actually be trimmed")
}

func TestFitBudget_LeavesSmallContextUntouched(t *testing.T) {
	client := &fakeClient{}
	g := newTestGenerator(t, client, false)

	contextText := "מספר פנייה: REQ-1 | פרויקט: תשתיות"
	trimmed := g.fitBudget(contextText, "sys", "question", DecodingProfile{MaxTokens: 200})
	assert.Equal(t, contextText, trimmed)
}
