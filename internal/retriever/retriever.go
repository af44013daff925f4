// Package retriever composes the three-layer search (structured SQL,
// textual LIKE, semantic ranking) into ordered, boosted results and their
// authoritative counts — generalized from the teacher's single-predicate
// Service.Query (internal/search/search.go) into a predicate tree that also
// supports disjunction, plus the boosting, rollup and degraded-fallback
// machinery the chunk store itself does not know about.
package retriever

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/rerrors"
	"github.com/ariel1441/hebrag/internal/serializer"
	"github.com/ariel1441/hebrag/internal/store"
	"github.com/ariel1441/hebrag/pkg/models"
)

// candidateFanout is how many chunks are fetched per requested record so
// the chunk-to-record rollup has enough candidates to fold from.
const candidateFanout = 4

// Retriever turns a ParsedQuery into an ordered RetrievalOutcome.
type Retriever struct {
	store      store.ChunkStore
	client     ai.Client
	thresholds config.Thresholds

	labelByField map[string]string

	limiter *rate.Limiter
	sem     chan struct{}
}

// New builds a Retriever. concurrency bounds how many record look-ups the
// rollup stage may have in flight at once; fields supplies the field-tier
// table used to translate target field names into the labels that actually
// appear in a serialized chunk.
func New(st store.ChunkStore, client ai.Client, fields []config.FieldSpec, th config.Thresholds, concurrency int) *Retriever {
	if concurrency <= 0 {
		concurrency = 4
	}
	labels := make(map[string]string, len(fields))
	for _, f := range fields {
		labels[f.Name] = f.Label
	}
	return &Retriever{
		store:        st,
		client:       client,
		thresholds:   th,
		labelByField: labels,
		limiter:      rate.NewLimiter(rate.Limit(concurrency*2), concurrency),
		sem:          make(chan struct{}, concurrency),
	}
}

// Retrieve runs the standard (non-similar-by-id) retrieval path: embed the
// query text, rank qualifying chunks, fold them to records, and report the
// predicate-matching total count alongside the ordered results.
func (r *Retriever) Retrieve(ctx context.Context, q models.ParsedQuery, k int) (models.RetrievalOutcome, error) {
	if k <= 0 {
		return models.RetrievalOutcome{}, rerrors.Wrap(rerrors.ErrInvalidInput, "k must be positive")
	}
	if ctx.Err() != nil {
		return models.RetrievalOutcome{}, rerrors.Wrap(rerrors.ErrTimedOut, ctx.Err().Error())
	}

	vec, err := r.client.Embed(q.OriginalText)
	if err != nil {
		return models.RetrievalOutcome{}, rerrors.Wrap(rerrors.ErrModelUnavailable, "embed query: "+err.Error())
	}

	opts := r.buildOpts(q)

	totalCount, err := r.store.Count(ctx, vec, opts)
	if err != nil {
		return models.RetrievalOutcome{}, wrapDeadline(ctx, err)
	}

	scored, err := r.store.Query(ctx, vec, k*candidateFanout, opts)
	if err != nil {
		return models.RetrievalOutcome{}, wrapDeadline(ctx, err)
	}

	records, err := r.rollup(ctx, scored, q)
	if err != nil {
		return models.RetrievalOutcome{}, err
	}

	if len(records) < r.thresholds.MinRecordsForStrict {
		fallback, ferr := r.store.Query(ctx, vec, k, store.QueryOpts{})
		if ferr == nil {
			fbRecords, rerr := r.rollup(ctx, fallback, q)
			if rerr == nil {
				return models.RetrievalOutcome{
					Results:    truncate(fbRecords, k),
					TotalCount: totalCount,
					Degraded:   true,
				}, nil
			}
		}
	}

	return models.RetrievalOutcome{Results: truncate(records, k), TotalCount: totalCount}, nil
}

// RetrieveSimilarByID ranks other records against one record's primary
// chunk vector, excluding the source record itself, applying the
// similar-by-id floor and annotating each candidate with which of
// {project, type, status, updater} match the source.
func (r *Retriever) RetrieveSimilarByID(ctx context.Context, requestID string, k int) (models.RetrievalOutcome, error) {
	if k <= 0 {
		return models.RetrievalOutcome{}, rerrors.Wrap(rerrors.ErrInvalidInput, "k must be positive")
	}

	source, found, err := r.store.GetRecord(ctx, requestID)
	if err != nil {
		return models.RetrievalOutcome{}, err
	}
	if !found {
		return models.RetrievalOutcome{}, rerrors.Wrapf(rerrors.ErrInvalidInput, "unknown request id %q", requestID)
	}

	_, vec, found, err := r.store.GetPrimaryChunk(ctx, requestID)
	if err != nil {
		return models.RetrievalOutcome{}, err
	}
	if !found {
		return models.RetrievalOutcome{}, rerrors.Wrapf(rerrors.ErrInvalidInput, "request id %q has no indexed chunks", requestID)
	}

	opts := store.QueryOpts{
		SimilarityThreshold: r.thresholds.SimilarByIDFloor,
		ExcludeRecordID:     requestID,
	}

	scored, err := r.store.Query(ctx, vec, k*candidateFanout, opts)
	if err != nil {
		return models.RetrievalOutcome{}, err
	}
	totalCount, err := r.store.Count(ctx, vec, opts)
	if err != nil {
		return models.RetrievalOutcome{}, err
	}

	results, err := r.rollupWithAnchor(ctx, scored, source)
	if err != nil {
		return models.RetrievalOutcome{}, err
	}

	return models.RetrievalOutcome{Results: truncate(results, k), TotalCount: totalCount}, nil
}

// buildOpts translates a ParsedQuery's entities into predicates and picks
// the similarity threshold class: structured-only queries ignore the
// threshold entirely (the count reflects the full qualifying population),
// mixed structured+textual queries use the lowest threshold (the predicates
// already enforce precision), textual-only queries use the strict
// threshold, and everything else (pure semantic) uses the general one.
func (r *Retriever) buildOpts(q models.ParsedQuery) store.QueryOpts {
	opts := store.QueryOpts{Operator: q.Operator}

	hasStructured := false
	if e, ok := q.Entities[models.EntityTypeID]; ok {
		n := e.Int
		opts.TypeID = &n
		hasStructured = true
	}
	if e, ok := q.Entities[models.EntityStatusID]; ok {
		n := e.Int
		opts.StatusID = &n
		hasStructured = true
	}
	if e, ok := q.Entities[models.EntityDateRange]; ok {
		if !e.DateRange.From.IsZero() {
			from := e.DateRange.From
			opts.DateFrom = &from
			hasStructured = true
		}
		if !e.DateRange.To.IsZero() {
			to := e.DateRange.To
			opts.DateTo = &to
			hasStructured = true
		}
	}

	hasTextual := false
	if e, ok := q.Entities[models.EntityPersonName]; ok {
		opts.PersonSubstr = e.Text
		hasTextual = true
	}
	if e, ok := q.Entities[models.EntityProjectName]; ok {
		opts.ProjectSubstr = e.Text
		hasTextual = true
	}

	switch {
	case hasStructured && hasTextual:
		opts.SimilarityThreshold = r.thresholds.MixedPredicates
	case hasTextual:
		opts.SimilarityThreshold = r.thresholds.StrictSingleEntity
	case hasStructured:
		opts.SimilarityThreshold = 0
	default:
		opts.SimilarityThreshold = r.thresholds.General
	}

	return opts
}

// rollup folds chunks to their best-scoring record, fetching each winning
// record's stored data with bounded concurrency.
func (r *Retriever) rollup(ctx context.Context, scored []models.ScoredChunk, q models.ParsedQuery) ([]models.RetrievalResult, error) {
	entityTexts := entityTextsOf(q)
	targetLabels := r.labelsFor(q.TargetFields)

	best := map[string]models.RetrievalResult{}
	bestBoosted := map[string]float64{}
	for _, sc := range scored {
		boost := boostFor(sc.Chunk.Text, entityTexts, targetLabels)
		boosted := sc.Similarity * boost
		recordID := sc.Chunk.RecordID

		cur, ok := best[recordID]
		if ok && !better(boosted, sc.Similarity, recordID, bestBoosted[recordID], cur.RawSimilarity, cur.RecordID) {
			continue
		}
		best[recordID] = models.RetrievalResult{
			RecordID:      recordID,
			BestScore:     boosted,
			RawSimilarity: sc.Similarity,
			BestChunkText: sc.Chunk.Text,
		}
		bestBoosted[recordID] = boosted
	}

	return r.attachRecords(ctx, sortResults(mapValues(best)))
}

// rollupWithAnchor is rollup specialized for similar-by-id: every winning
// record is additionally annotated with which fields match the anchor.
func (r *Retriever) rollupWithAnchor(ctx context.Context, scored []models.ScoredChunk, anchor models.Record) ([]models.RetrievalResult, error) {
	best := map[string]models.RetrievalResult{}
	for _, sc := range scored {
		recordID := sc.Chunk.RecordID
		cur, ok := best[recordID]
		if ok && !better(sc.Similarity, sc.Similarity, recordID, cur.BestScore, cur.RawSimilarity, cur.RecordID) {
			continue
		}
		best[recordID] = models.RetrievalResult{
			RecordID:      recordID,
			BestScore:     sc.Similarity,
			RawSimilarity: sc.Similarity,
			BestChunkText: sc.Chunk.Text,
		}
	}

	results, err := r.attachRecords(ctx, sortResults(mapValues(best)))
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Matches = matchChecklist(anchor, results[i].Record)
	}
	return results, nil
}

// attachRecords loads each result's full Record with a bounded pool of
// concurrent store look-ups, gated by the retriever's semaphore/limiter
// pair — the "small bounded worker pool for concurrent retrieval requests".
func (r *Retriever) attachRecords(ctx context.Context, results []models.RetrievalResult) ([]models.RetrievalResult, error) {
	type outcome struct {
		idx int
		rec models.Record
		err error
	}
	out := make(chan outcome, len(results))

	for i, res := range results {
		i, res := i, res
		r.sem <- struct{}{}
		go func() {
			defer func() { <-r.sem }()
			if err := r.limiter.Wait(ctx); err != nil {
				out <- outcome{idx: i, err: err}
				return
			}
			rec, _, err := r.store.GetRecord(ctx, res.RecordID)
			out <- outcome{idx: i, rec: rec, err: err}
		}()
	}

	var firstErr error
	for range results {
		o := <-out
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		results[o.idx].Record = o.rec
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// wrapDeadline reclassifies a store error as ErrTimedOut when the caller's
// deadline is what actually ended the call, so the orchestrator can tell a
// timeout apart from a genuine store failure.
func wrapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rerrors.Wrap(rerrors.ErrTimedOut, err.Error())
	}
	return err
}

func (r *Retriever) labelsFor(fieldNames []string) []string {
	labels := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		if lbl, ok := r.labelByField[name]; ok {
			labels = append(labels, lbl)
		}
	}
	return labels
}

// boostFor implements the ×2.0/×1.5/×1.0 multiplier: ×2.0 when an entity
// string appears inside a target-field's labeled segment of the chunk
// (chunks are "Label: value" tokens joined by " | "), ×1.5 when it appears
// anywhere in the chunk text, ×1.0 otherwise.
func boostFor(chunkText string, entityTexts, targetLabels []string) float64 {
	if len(entityTexts) == 0 {
		return 1.0
	}
	segments := strings.Split(chunkText, serializer.Separator)

	best := 1.0
	for _, entity := range entityTexts {
		if entity == "" {
			continue
		}
		anyMatch := false
		targetMatch := false
		for _, seg := range segments {
			if !strings.Contains(seg, entity) {
				continue
			}
			anyMatch = true
			for _, lbl := range targetLabels {
				if strings.HasPrefix(seg, lbl+":") {
					targetMatch = true
				}
			}
		}
		switch {
		case targetMatch:
			best = max(best, 2.0)
		case anyMatch:
			best = max(best, 1.5)
		}
	}
	return best
}

func entityTextsOf(q models.ParsedQuery) []string {
	var texts []string
	if e, ok := q.Entities[models.EntityPersonName]; ok && e.Text != "" {
		texts = append(texts, e.Text)
	}
	if e, ok := q.Entities[models.EntityProjectName]; ok && e.Text != "" {
		texts = append(texts, e.Text)
	}
	return texts
}

// matchChecklist reports which of {project, type_id, status_id, updater}
// the candidate shares with the anchor record, checking a fixed list of key
// spellings per field (e.g. "typeid", "TypeId", "type_id").
func matchChecklist(anchor, candidate models.Record) map[string]bool {
	eq := func(keys ...string) bool {
		av, aok := firstPresent(anchor, keys)
		cv, cok := firstPresent(candidate, keys)
		return aok && cok && av == cv
	}
	return map[string]bool{
		"project": eq("project", "Project"),
		"type":    eq("typeid", "TypeId", "type_id"),
		"status":  eq("statusid", "StatusId", "status_id"),
		"updater": eq("updatedby", "UpdatedBy", "updater"),
	}
}

func firstPresent(r models.Record, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok {
			switch x := v.(type) {
			case string:
				return x, true
			case nil:
				continue
			default:
				return toComparable(x), true
			}
		}
	}
	return "", false
}

func toComparable(v any) string {
	switch x := v.(type) {
	case int:
		return itoa(x)
	case int32:
		return itoa(int(x))
	case int64:
		return itoa(int(x))
	case float64:
		return itoa(int(x))
	default:
		return ""
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// better reports whether the candidate (boosted, raw, recordID) outranks
// the incumbent under the tie-break order: boosted score, then raw
// similarity, then ascending record_id.
func better(boosted, raw float64, recordID string, curBoosted, curRaw float64, curID string) bool {
	if boosted != curBoosted {
		return boosted > curBoosted
	}
	if raw != curRaw {
		return raw > curRaw
	}
	return recordID < curID
}

func sortResults(results []models.RetrievalResult) []models.RetrievalResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		if a.RawSimilarity != b.RawSimilarity {
			return a.RawSimilarity > b.RawSimilarity
		}
		return a.RecordID < b.RecordID
	})
	return results
}

func mapValues(m map[string]models.RetrievalResult) []models.RetrievalResult {
	out := make([]models.RetrievalResult, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func truncate(results []models.RetrievalResult, k int) []models.RetrievalResult {
	if len(results) <= k {
		return results
	}
	return results[:k]
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
