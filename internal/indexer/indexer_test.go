package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/serializer"
	"github.com/ariel1441/hebrag/internal/store"
	"github.com/ariel1441/hebrag/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func testFields() []config.FieldSpec {
	return []config.FieldSpec{
		{Name: "requestid", Label: "מספר פנייה", Tier: config.TierCritical},
		{Name: "project", Label: "פרויקט", Tier: config.TierImportant},
	}
}

func testRetrieval() config.Retrieval {
	return config.Retrieval{ChunkSize: 512, ChunkOverlap: 50, KDefault: 5, KSummary: 20}
}

// mockStore is a store.ChunkStore double recording the calls the indexer
// makes.
type mockStore struct {
	upsertedRequests []models.Record
	upsertedChunks   [][]models.Chunk
	upsertedVectors  [][][]float32
	upsertErr        error
}

func (m *mockStore) Migrate(ctx context.Context, dim int) error { return nil }
func (m *mockStore) UpsertRequest(ctx context.Context, record models.Record) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upsertedRequests = append(m.upsertedRequests, record)
	return nil
}
func (m *mockStore) UpsertChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upsertedChunks = append(m.upsertedChunks, chunks)
	m.upsertedVectors = append(m.upsertedVectors, vectors)
	return nil
}
func (m *mockStore) DeleteByRecordIDs(ctx context.Context, ids []string) error { return nil }
func (m *mockStore) GetRecord(ctx context.Context, recordID string) (models.Record, bool, error) {
	return nil, false, nil
}
func (m *mockStore) GetPrimaryChunk(ctx context.Context, recordID string) (models.Chunk, []float32, bool, error) {
	return models.Chunk{}, nil, false, nil
}
func (m *mockStore) Query(ctx context.Context, vector []float32, k int, opts store.QueryOpts) ([]models.ScoredChunk, error) {
	return nil, nil
}
func (m *mockStore) Count(ctx context.Context, vector []float32, opts store.QueryOpts) (int, error) {
	return 0, nil
}

// mockWalker replays a fixed set of paths through the callback, bypassing
// godirwalk.Dirent (the teacher's MockFileSystemWalker does the same).
type mockWalker struct {
	paths []string
}

func (m *mockWalker) Walk(root string, options *godirwalk.Options) error {
	for _, p := range m.paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

type mockReader struct {
	files map[string]string
}

func (m *mockReader) ReadFile(filename string) ([]byte, error) {
	content, ok := m.files[filename]
	if !ok {
		return nil, errors.New("file not found")
	}
	return []byte(content), nil
}

func TestRun_IndexesEveryJSONRecordFile(t *testing.T) {
	files := map[string]string{
		"/data/req1.json": `{"requestid": "REQ-1", "project": "תשתיות"}`,
		"/data/req2.json": `{"requestid": "REQ-2", "project": "כבישים"}`,
	}
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}

	st := &mockStore{}
	client := ai.NewStubClient(4)
	ix := NewWithDependencies(st, client, serializer.New(testFields(), testRetrieval()),
		&mockWalker{paths: paths}, &mockReader{files: files}, "/data")

	err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.upsertedRequests) != 2 {
		t.Fatalf("expected 2 upserted requests, got %d", len(st.upsertedRequests))
	}
	if len(st.upsertedChunks) != 2 {
		t.Fatalf("expected 2 upserted chunk batches, got %d", len(st.upsertedChunks))
	}
	for i, chunks := range st.upsertedChunks {
		if len(chunks) != len(st.upsertedVectors[i]) {
			t.Errorf("chunk/vector count mismatch in batch %d: %d vs %d", i, len(chunks), len(st.upsertedVectors[i]))
		}
	}
}

func TestRun_SkipsNonJSONFiles(t *testing.T) {
	files := map[string]string{
		"/data/req1.json":  `{"requestid": "REQ-1", "project": "תשתיות"}`,
		"/data/README.md":  "not a record",
		"/data/notes.txt":  "not a record either",
	}
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}

	st := &mockStore{}
	client := ai.NewStubClient(4)
	ix := NewWithDependencies(st, client, serializer.New(testFields(), testRetrieval()),
		&mockWalker{paths: paths}, &mockReader{files: files}, "/data")

	if err := ix.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.upsertedRequests) != 1 {
		t.Fatalf("expected only the json record to be indexed, got %d", len(st.upsertedRequests))
	}
}

func TestRun_SkipsInvalidJSONWithoutFailing(t *testing.T) {
	files := map[string]string{
		"/data/broken.json": `not valid json`,
		"/data/req1.json":   `{"requestid": "REQ-1", "project": "תשתיות"}`,
	}
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}

	st := &mockStore{}
	client := ai.NewStubClient(4)
	ix := NewWithDependencies(st, client, serializer.New(testFields(), testRetrieval()),
		&mockWalker{paths: paths}, &mockReader{files: files}, "/data")

	if err := ix.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.upsertedRequests) != 1 {
		t.Fatalf("expected the broken file to be skipped, got %d upserted", len(st.upsertedRequests))
	}
}

func TestRun_SkipsRecordWithNoRequestID(t *testing.T) {
	files := map[string]string{
		"/data/orphan.json": `{"project": "תשתיות"}`,
	}
	st := &mockStore{}
	client := ai.NewStubClient(4)
	ix := NewWithDependencies(st, client, serializer.New(testFields(), testRetrieval()),
		&mockWalker{paths: []string{"/data/orphan.json"}}, &mockReader{files: files}, "/data")

	if err := ix.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.upsertedRequests) != 0 {
		t.Fatalf("expected no upserts for a record with no request id, got %d", len(st.upsertedRequests))
	}
}

func TestRun_ContinuesPastStoreErrors(t *testing.T) {
	files := map[string]string{
		"/data/req1.json": `{"requestid": "REQ-1", "project": "תשתיות"}`,
	}
	st := &mockStore{upsertErr: errors.New("database connection failed")}
	client := ai.NewStubClient(4)
	ix := NewWithDependencies(st, client, serializer.New(testFields(), testRetrieval()),
		&mockWalker{paths: []string{"/data/req1.json"}}, &mockReader{files: files}, "/data")

	// Run reports a worker error through its single-slot error channel but
	// still drains the whole work queue rather than aborting mid-walk.
	_ = ix.Run(context.Background())
}

func TestInterfaceCompliance(t *testing.T) {
	var _ store.ChunkStore = &mockStore{}
	var _ FileSystemWalker = &mockWalker{}
	var _ FileReader = &mockReader{}
}
