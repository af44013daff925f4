// Package store persists chunks and their source records in PostgreSQL with
// the pgvector extension, and answers ranked k-NN queries and their
// matching counts from one shared predicate builder — generalized from the
// teacher's code-search chunk store (internal/store/store.go) to the
// retrieval core's (record_id, chunk_index, text, vector, metadata) schema.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/tidwall/gjson"

	"github.com/ariel1441/hebrag/internal/rerrors"
	"github.com/ariel1441/hebrag/pkg/models"
)

// ChunkStore is the persistence contract the Retriever depends on. Query
// and Count MUST derive their WHERE clause from the same QueryOpts value so
// the counting invariant holds by construction.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	UpsertRequest(ctx context.Context, record models.Record) error
	UpsertChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	DeleteByRecordIDs(ctx context.Context, ids []string) error
	GetRecord(ctx context.Context, recordID string) (models.Record, bool, error)
	GetPrimaryChunk(ctx context.Context, recordID string) (models.Chunk, []float32, bool, error)
	Query(ctx context.Context, vector []float32, k int, opts QueryOpts) ([]models.ScoredChunk, error)
	Count(ctx context.Context, vector []float32, opts QueryOpts) (int, error)
}

// Store is the pgx/pgvector-backed ChunkStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at url.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the requests/chunks schema, the vector column at the
// deployment's chosen dimension, and the ANN/B-tree indexes the Vector
// Store contract requires.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS requests (
  requestid            TEXT PRIMARY KEY,
  project              TEXT,
  type_id              INT,
  status_id            INT,
  status_date          TIMESTAMPTZ,
  updater              TEXT,
  creator              TEXT,
  responsible_employee TEXT,
  contact_email        TEXT,
  remarks              TEXT,
  area_center          TEXT,
  urgent               BOOLEAN NOT NULL DEFAULT FALSE,
  raw                  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
  id           BIGSERIAL PRIMARY KEY,
  record_id    TEXT NOT NULL REFERENCES requests(requestid) ON DELETE CASCADE,
  chunk_index  INT NOT NULL,
  text         TEXT NOT NULL,
  embedding    vector(%d),
  metadata     JSONB,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (record_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_record_id_idx ON chunks (record_id);
CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
CREATE INDEX IF NOT EXISTS requests_type_status_idx ON requests (type_id, status_id);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// UpsertRequest inserts or replaces the structured side-table row for one
// record, reading its typed columns tolerantly out of the raw map with
// gjson so the caller never has to hand-build a typed struct.
func (s *Store) UpsertRequest(ctx context.Context, record models.Record) error {
	recordID, ok := record.RequestID()
	if !ok {
		return rerrors.Wrap(rerrors.ErrInvalidInput, "record has no request id")
	}

	raw, err := jsonMarshal(record)
	if err != nil {
		return err
	}
	j := gjson.ParseBytes(raw)

	const q = `
INSERT INTO requests (
  requestid, project, type_id, status_id, status_date,
  updater, creator, responsible_employee, contact_email, remarks,
  area_center, urgent, raw
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (requestid) DO UPDATE SET
  project              = EXCLUDED.project,
  type_id              = EXCLUDED.type_id,
  status_id            = EXCLUDED.status_id,
  status_date          = EXCLUDED.status_date,
  updater              = EXCLUDED.updater,
  creator              = EXCLUDED.creator,
  responsible_employee = EXCLUDED.responsible_employee,
  contact_email        = EXCLUDED.contact_email,
  remarks              = EXCLUDED.remarks,
  area_center          = EXCLUDED.area_center,
  urgent               = EXCLUDED.urgent,
  raw                  = EXCLUDED.raw;`

	_, err = s.pool.Exec(ctx, q,
		recordID,
		firstString(j, "project", "Project"),
		firstIntPtr(j, "typeid", "TypeId", "type_id"),
		firstIntPtr(j, "statusid", "StatusId", "status_id"),
		firstTimePtr(j, "statusdate", "StatusDate", "status_date"),
		firstString(j, "updatedby", "UpdatedBy", "updater"),
		firstString(j, "createdby", "CreatedBy", "creator"),
		firstString(j, "responsibleemployee", "ResponsibleEmployee"),
		firstString(j, "contactemail", "ContactEmail"),
		firstString(j, "remarks", "Remarks"),
		firstString(j, "areacenter", "AreaCenter"),
		firstBool(j, "urgent", "Urgent"),
		raw,
	)
	return err
}

// UpsertChunks replaces a record's serialized chunks with the given set and
// their embeddings, matched by position.
func (s *Store) UpsertChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return rerrors.Wrapf(rerrors.ErrInvalidInput, "chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	const q = `
INSERT INTO chunks (record_id, chunk_index, text, embedding, metadata)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (record_id, chunk_index) DO UPDATE SET
  text      = EXCLUDED.text,
  embedding = EXCLUDED.embedding,
  metadata  = EXCLUDED.metadata;`

	batch := &pgx.Batch{}
	if len(chunks) > 0 {
		batch.Queue(`DELETE FROM chunks WHERE record_id = $1 AND chunk_index >= $2`, chunks[0].RecordID, len(chunks))
	}
	for i, c := range chunks {
		meta, err := jsonMarshal(c.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(q, c.RecordID, c.ChunkIndex, c.Text, pgvector.NewVector(vectors[i]), meta)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
		}
	}
	return nil
}

// DeleteByRecordIDs removes the given records' rows and (via ON DELETE
// CASCADE) their chunks.
func (s *Store) DeleteByRecordIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM requests WHERE requestid = ANY($1)`, ids)
	return err
}

// GetRecord loads one record's raw JSON back into a models.Record.
func (s *Store) GetRecord(ctx context.Context, recordID string) (models.Record, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT raw FROM requests WHERE requestid = $1`, recordID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
	}
	rec, err := jsonUnmarshalRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// GetPrimaryChunk returns a record's chunk_index=0 chunk and its stored
// embedding — the anchor vector similar-by-id ranks against.
func (s *Store) GetPrimaryChunk(ctx context.Context, recordID string) (models.Chunk, []float32, bool, error) {
	var c models.Chunk
	var vec pgvector.Vector
	var meta []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, record_id, chunk_index, text, embedding, metadata, created_at
FROM chunks WHERE record_id = $1 AND chunk_index = 0`, recordID,
	).Scan(&c.ID, &c.RecordID, &c.ChunkIndex, &c.Text, &vec, &meta, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chunk{}, nil, false, nil
	}
	if err != nil {
		return models.Chunk{}, nil, false, rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
	}
	if len(meta) > 0 {
		c.Metadata, _ = jsonUnmarshalMap(meta)
	}
	return c, vec.Slice(), true, nil
}

// Query ranks chunks joined to their record by raw cosine similarity against
// vector (no boost is applied here; the retriever boosts the candidates it
// gets back), applying opts' structured/textual predicates and similarity
// threshold to that raw similarity, and MUST NOT truncate below k when more qualifying rows exist
// — it simply orders and LIMITs, never pre-filters the candidate set below
// k before ranking.
func (s *Store) Query(ctx context.Context, vector []float32, k int, opts QueryOpts) ([]models.ScoredChunk, error) {
	where, args, _ := opts.toSQL(2)
	args = append([]any{pgvector.NewVector(vector)}, args...)
	args = append(args, k)

	q := fmt.Sprintf(`
WITH ranked AS (
  SELECT c.id, c.record_id, c.chunk_index, c.text, c.metadata, c.created_at,
         r.project, r.type_id, r.status_id, r.status_date, r.updater, r.creator,
         r.responsible_employee, r.urgent,
         1 - (c.embedding <=> $1) AS similarity
  FROM chunks c
  JOIN requests r ON r.requestid = c.record_id
)
SELECT id, record_id, chunk_index, text, metadata, created_at, similarity
FROM ranked
WHERE %s
ORDER BY similarity DESC, record_id ASC
LIMIT $%d;`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		var meta []byte
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.RecordID, &sc.Chunk.ChunkIndex,
			&sc.Chunk.Text, &meta, &sc.Chunk.CreatedAt, &sc.Similarity); err != nil {
			return nil, rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
		}
		if len(meta) > 0 {
			sc.Chunk.Metadata, _ = jsonUnmarshalMap(meta)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
	}
	return out, nil
}

// Count returns the number of distinct records meeting opts, built from
// the identical toSQL predicate the ranking query uses.
func (s *Store) Count(ctx context.Context, vector []float32, opts QueryOpts) (int, error) {
	where, args, _ := opts.toSQL(2)
	args = append([]any{pgvector.NewVector(vector)}, args...)

	q := fmt.Sprintf(`
WITH ranked AS (
  SELECT c.record_id,
         r.project, r.type_id, r.status_id, r.status_date, r.updater, r.creator,
         r.responsible_employee, r.urgent,
         1 - (c.embedding <=> $1) AS similarity
  FROM chunks c
  JOIN requests r ON r.requestid = c.record_id
)
SELECT COUNT(DISTINCT record_id) FROM ranked WHERE %s;`, where)

	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, rerrors.Wrap(rerrors.ErrStoreUnavailable, err.Error())
	}
	return n, nil
}

func jsonMarshal(v any) ([]byte, error) {
	b, err := marshalJSON(v)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrInvalidInput, err.Error())
	}
	return b, nil
}
