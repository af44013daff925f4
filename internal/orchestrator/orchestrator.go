// Package orchestrator drives the full RAG pipeline: parse query text (or
// route by request_id), retrieve, adjust k for count/summarize, format the
// retrieved records into an LLM context, and generate an answer — degrading
// gracefully to retrieval-only when generation is unavailable. Grounded on
// the teacher's cmd/api.main "load config, construct clients, construct
// service, handle request" flow, lifted out of the HTTP handler into a
// reusable library type so cmd/ragserver stays a thin transport shim over
// it, the way cmd/api stays thin over search.Service.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/formatter"
	"github.com/ariel1441/hebrag/internal/generator"
	"github.com/ariel1441/hebrag/internal/parser"
	"github.com/ariel1441/hebrag/internal/rerrors"
	"github.com/ariel1441/hebrag/internal/retriever"
	"github.com/ariel1441/hebrag/internal/store"
	"github.com/ariel1441/hebrag/pkg/models"
)

// QueryOptions are the caller-supplied knobs for one Query call.
type QueryOptions struct {
	// RequestID, when set, routes to similar-by-id retrieval instead of
	// parsing text into a query plan.
	RequestID string
	// K overrides the retrieval width; nil means the caller omitted top_k
	// and the configured default (or the summarize override, for a
	// `summarize` query) applies. A non-nil value of zero or less is an
	// explicit invalid top_k (§7/§8's ErrInvalidInput), not "use the
	// default" — it must fail, not silently fall back.
	K *int
	// Generate controls whether an LLM answer is produced at all; false
	// returns retrieval and formatting only.
	Generate bool
}

// Orchestrator wires the parser, retriever, formatter and generator into
// the single Query entry point §4H specifies.
type Orchestrator struct {
	parser    *parser.Parser
	retriever *retriever.Retriever
	formatter *formatter.Formatter
	generator *generator.Generator
	lang      config.LanguageSpec
	kDefault  int
	kSummary  int
	now       func() time.Time
}

// New builds an Orchestrator. embedClient backs retrieval (embeddings);
// genClient backs answer generation — they may be the same Client, or
// distinct ones when the configured provider (e.g. gollm) has no embedding
// endpoint of its own. The embedding dimension is checked once here against
// the configured dimension, per §7's ErrDimensionMismatch being "fatal at
// startup".
func New(st store.ChunkStore, embedClient, genClient ai.Client, cfg config.Specification, lang config.LanguageSpec) (*Orchestrator, error) {
	if cfg.Dim != 0 && embedClient.Dim() != cfg.Dim {
		return nil, rerrors.Wrapf(rerrors.ErrDimensionMismatch,
			"configured dim %d, embedding client dim %d", cfg.Dim, embedClient.Dim())
	}

	gen, err := generator.New(genClient, cfg.Decoding)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		parser:    parser.New(lang),
		retriever: retriever.New(st, embedClient, cfg.FieldTiers, cfg.Thresholds, 0),
		formatter: formatter.New(cfg.FieldTiers, cfg.Formatting),
		generator: gen,
		lang:      lang,
		kDefault:  cfg.Retrieval.KDefault,
		kSummary:  cfg.Retrieval.KSummary,
		now:       time.Now,
	}, nil
}

// Query runs parse → retrieve (or retrieve-similar-by-id) → count/k
// adjustment → format → generate, returning the combined result §6
// specifies. A generation failure degrades the result to retrieval-only
// rather than failing the call; a retrieval failure does fail the call,
// since store failures are not recoverable (§7).
func (o *Orchestrator) Query(ctx context.Context, text string, opt QueryOptions) (models.Result, error) {
	if opt.RequestID == "" && text == "" {
		return models.Result{}, rerrors.Wrap(rerrors.ErrInvalidInput, "query text must not be empty")
	}

	k := o.kDefault
	if opt.K != nil {
		if *opt.K <= 0 {
			return models.Result{}, rerrors.Wrap(rerrors.ErrInvalidInput, "top_k must be positive")
		}
		k = *opt.K
	}

	parsed, outcome, err := o.retrieve(ctx, text, opt, k)
	if err != nil {
		return models.Result{}, err
	}

	result := models.Result{
		Records:    outcome.Results,
		TotalCount: outcome.TotalCount,
		Parsed:     parsed,
		Degraded:   outcome.Degraded,
	}

	if !opt.Generate {
		return result, nil
	}

	contextText := o.formatter.Format(outcome, parsed, o.lang, o.now())
	answer, err := o.generator.Generate(ctx, contextText, parsed)
	if err != nil {
		if rerrors.Is(err, rerrors.ErrModelUnavailable) {
			result.Degraded = true
			return result, nil
		}
		return models.Result{}, err
	}

	result.Answer = &answer
	return result, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, text string, opt QueryOptions, k int) (models.ParsedQuery, models.RetrievalOutcome, error) {
	if opt.RequestID != "" {
		parsed := models.ParsedQuery{
			QueryType:    models.QuerySimilar,
			OriginalText: text,
			Entities: map[models.EntityType]models.Entity{
				models.EntityRequestID: {Type: models.EntityRequestID, Text: opt.RequestID},
			},
		}
		outcome, err := o.retriever.RetrieveSimilarByID(ctx, opt.RequestID, k)
		return parsed, outcome, err
	}

	parsed := o.parser.Parse(text)
	if parsed.Intent == models.IntentGeneral && len(parsed.Entities) == 0 {
		log.Debug().Str("query", text).Msg(rerrors.ErrParseDegenerate.Error())
	}
	if parsed.QueryType == models.QuerySummarize {
		k = o.kSummary
	}

	outcome, err := o.retriever.Retrieve(ctx, parsed, k)
	return parsed, outcome, err
}
