// Command ragserver is the thin HTTP transport over the Hebrew RAG core
// (§6): a "/query" endpoint dispatching free-text queries through the
// Orchestrator, and a "/similar/{request_id}" endpoint for the
// retrieve-by-anchor-record path. Grounded on the teacher's cmd/api/main.go
// wiring shape (flag/config load, zerolog+hlog access logging, singleton
// client construction, http.ServeMux) with the GitHub OAuth endpoints and
// the code-search-specific /repositories and /search routes replaced by
// the two RAG endpoints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/auth"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/orchestrator"
	"github.com/ariel1441/hebrag/internal/rerrors"
	"github.com/ariel1441/hebrag/internal/store"
)

// queryErrorStatus maps the core's closed error taxonomy to an HTTP status:
// a malformed request is a 400, anything else surfacing from Query is a
// transport-layer 500.
func queryErrorStatus(err error) int {
	if rerrors.Is(err, rerrors.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

const defaultLanguage = "he"

func main() {
	fs := pflag.NewFlagSet("hebrag-ragserver", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting hebrag ragserver")

	lang, ok := cfg.Languages[defaultLanguage]
	if !ok {
		log.Fatalf("no language table configured for %q", defaultLanguage)
	}

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:       cfg.APIKey,
			EmbedModel:   cfg.EmbedModel,
			SummaryModel: cfg.SummaryModel,
			Dim:          cfg.Dim,
			ProjectID:    cfg.ProjectID,
			Provider:     ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:       cfg.APIKey,
			EmbedModel:   cfg.EmbedModel,
			SummaryModel: cfg.SummaryModel,
			Dim:          cfg.Dim,
			ProjectID:    cfg.ProjectID,
			Location:     cfg.Location,
			Provider:     ai.ProviderVertexAI,
		}
	case "gollm":
		clientConfig = &ai.ClientConfig{
			APIKey:       cfg.APIKey,
			EmbedModel:   cfg.EmbedModel,
			SummaryModel: cfg.SummaryModel,
			Dim:          cfg.Dim,
			Provider:     ai.ProviderGollm,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{Dim: cfg.Dim, Provider: ai.ProviderStub}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer st.Close()

	// One client fills both the embed and the generate slot of the
	// orchestrator, for every provider kind (gollm included), matching the
	// teacher's single-client wiring.
	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("failed to create AI client: %v", err)
	}

	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	orch, err := orchestrator.New(st, c, c, cfg, lang)
	if err != nil {
		log.Fatalf("failed to build orchestrator: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]bool{"enabled": auth.IsAuthEnabled()}); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/query", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}

		opt := orchestrator.QueryOptions{Generate: true}
		if v := r.URL.Query().Get("k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid k", http.StatusBadRequest)
				return
			}
			opt.K = &n
		}
		if v := r.URL.Query().Get("generate"); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				opt.Generate = b
			}
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		result, err := orch.Query(reqCtx, q, opt)
		if err != nil {
			http.Error(w, err.Error(), queryErrorStatus(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Error().Err(err).Msg("failed to encode query response")
		}

		hlog.FromRequest(r).Info().Str("path", "/query").Str("q", q).Int("records", len(result.Records)).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("/similar/", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimPrefix(r.URL.Path, "/similar/")
		if requestID == "" {
			http.Error(w, "missing request id", http.StatusBadRequest)
			return
		}

		opt := orchestrator.QueryOptions{RequestID: requestID, Generate: false}
		if v := r.URL.Query().Get("k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid k", http.StatusBadRequest)
				return
			}
			opt.K = &n
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		result, err := orch.Query(reqCtx, "", opt)
		if err != nil {
			http.Error(w, err.Error(), queryErrorStatus(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Error().Err(err).Msg("failed to encode similar response")
		}

		hlog.FromRequest(r).Info().Str("path", "/similar").Str("request_id", requestID).Int("records", len(result.Records)).Dur("dur", time.Since(start)).Msg("served")
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("ragserver listening")
	log.Fatal(s.ListenAndServe())
}
