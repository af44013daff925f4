// Package generator drives the answer-generation LLM: it builds a
// query-type-specific prompt around a formatted context, selects a decoding
// profile by probing the host for a GPU, and extracts the model's answer
// without mutating it. Grounded on the teacher's Summarize prompt
// construction style (system/user split, fixed instruction preamble) in
// internal/ai/openai.go and vertexai.go, generalized to a per-query-type
// instruction table instead of one fixed code-summary instruction.
package generator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/rerrors"
	"github.com/ariel1441/hebrag/pkg/models"
)

const encodingName = "cl100k_base"

// modelContextWindow is the conservative total token budget (prompt plus
// completion) the generator assumes when no backend-specific window is
// known. Instruction-tuned local models in the 7B class this targets
// commonly ship a 4k context.
const modelContextWindow = 4096

const safetyMarginTokens = 64

// DecodingProfile is the resolved sampling configuration for one Generate
// call: §4G's "parallel or GPU" profile (temperature sampling, larger token
// budget) or its "CPU / constrained" profile (greedy, smaller budget).
type DecodingProfile struct {
	Temperature float64
	MaxTokens   int
}

// Generator drives ai.Client.Generate with a built prompt and a
// hardware-selected decoding profile.
type Generator struct {
	client   ai.Client
	decoding config.Decoding
	enc      *tiktoken.Tiktoken
	hasGPU   func() bool
}

// New builds a Generator. It loads the tiktoken cl100k_base encoding once at
// construction, the same encoding the teacher's chunk token counter uses.
func New(client ai.Client, decoding config.Decoding) (*Generator, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrModelUnavailable, err.Error())
	}
	return &Generator{
		client:   client,
		decoding: decoding,
		enc:      enc,
		hasGPU:   probeGPU,
	}, nil
}

// Generate drives the LLM with a template that declares the task in Hebrew,
// embeds context verbatim (trimmed to the decoding profile's token budget,
// never trimming the leading statistics/count header), instructs
// grounding-only/short-answer/exact-numerics, and adds a query-type-specific
// instruction. Failures are wrapped as rerrors.ErrModelUnavailable so the
// orchestrator can degrade to retrieval-only.
func (g *Generator) Generate(ctx context.Context, contextText string, parsed models.ParsedQuery) (string, error) {
	profile := g.SelectProfile()
	sysPrompt := buildSystemPrompt(parsed.QueryType)
	contextText = g.fitBudget(contextText, sysPrompt, parsed.OriginalText, profile)

	userPrompt := fmt.Sprintf("שאלה: %s\n\nהקשר:\n%s", parsed.OriginalText, contextText)

	answer, err := g.client.Generate(ctx, userPrompt, ai.GenerateOptions{
		SystemPrompt: sysPrompt,
		Temperature:  profile.Temperature,
		MaxTokens:    profile.MaxTokens,
	})
	if err != nil {
		return "", rerrors.Wrap(rerrors.ErrModelUnavailable, err.Error())
	}

	return strings.TrimSpace(answer), nil
}

// SelectProfile picks the GPU or CPU decoding profile by probing the host.
// Profile selection never affects factual accuracy, only prose length and
// sampling diversity.
func (g *Generator) SelectProfile() DecodingProfile {
	if g.hasGPU() {
		return DecodingProfile{Temperature: g.decoding.GPUTemperature, MaxTokens: g.decoding.GPUMaxTokens}
	}
	return DecodingProfile{Temperature: 0, MaxTokens: g.decoding.CPUMaxTokens}
}

// probeGPU mirrors the level of sophistication the teacher applies to its
// own worker-count probe in Indexer.Run (runtime.NumCPU(), capped): a
// presence check, not a capability negotiation.
func probeGPU() bool {
	if os.Getenv("CUDA_VISIBLE_DEVICES") != "" {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// fitBudget trims contextText from the end, block by block (blocks are
// separated by the formatter's blank-line block boundary), until the full
// prompt fits the profile's token budget. The first block is never dropped:
// for `count`/`summarize` queries it is the pre-computed header the LLM must
// quote verbatim; for every other query type it guarantees at least one
// record survives.
func (g *Generator) fitBudget(contextText, sysPrompt, question string, profile DecodingProfile) string {
	budget := modelContextWindow - profile.MaxTokens - safetyMarginTokens
	if budget < 0 {
		budget = 0
	}

	blocks := strings.Split(contextText, "\n\n")
	for len(blocks) > 1 && g.promptTokens(sysPrompt, question, strings.Join(blocks, "\n\n")) > budget {
		blocks = blocks[:len(blocks)-1]
	}
	return strings.Join(blocks, "\n\n")
}

func (g *Generator) promptTokens(sysPrompt, question, contextText string) int {
	combined := sysPrompt + "\n" + question + "\n" + contextText
	return len(g.enc.Encode(combined, nil, nil))
}

// heText is the fixed Hebrew instruction preamble §4G requires: declare the
// task, ground in context only, prefer short answers, use pre-computed
// numbers verbatim. Only Hebrew is configured (config.defaultLanguages has
// no other entry), so the preamble is not yet keyed by language.
var heText = struct {
	task    string
	ground  string
	short   string
	numeric string
}{
	task:    "ענה על השאלה הבאה בהתבסס אך ורק על ההקשר המצורף.",
	ground:  "התבסס אך ורק על המידע בהקשר; אל תמציא פרטים שאינם מופיעים בו.",
	short:   "השב בתמציתיות ובקצרה ככל האפשר.",
	numeric: "השתמש במספרים המדויקים שחושבו מראש בהקשר, ואל תשנה אותם.",
}

var queryTypeInstruction = map[models.QueryType]string{
	models.QueryUrgent:          "פרט כל פנייה דחופה יחד עם רמת הדחיפות שלה, כפי שמופיעה בהקשר.",
	models.QuerySummarize:       "סכם את הנתונים; אל תספור או תחשב מחדש, רק השתמש במספרים שכבר חושבו.",
	models.QueryCount:           "ציין את המספר המדויק שמופיע בהקשר, מילה במילה.",
	models.QuerySimilar:         "הסבר את המשותף בין הפניות באמצעות סימוני ה-✓ וה-✗ שבהקשר.",
	models.QueryAnswerRetrieval: "תאר כיצד טופל המקרה הדומה ביותר בעבר, בהתבסס על ההקשר בלבד.",
}

func buildSystemPrompt(qt models.QueryType) string {
	instr, ok := queryTypeInstruction[qt]
	if !ok {
		instr = "ענה ישירות על השאלה באמצעות הפניות הרלוונטיות בהקשר."
	}
	return strings.Join([]string{heText.task, heText.ground, heText.short, heText.numeric, instr}, " ")
}
