// Package indexer drives the offline half of the pipeline (§2: Record → A →
// B → C): walk a directory of per-record JSON files, serialize and chunk
// each record with weighted field concatenation, embed the chunks, and
// persist both the structured record and its chunk set. Existing chunk rows
// are overwritten in place by (record_id, chunk_index) and rows beyond the
// new chunk count are deleted in the same batch; no shadow relation is built
// or swapped. Grounded on the teacher's
// internal/indexer/indexer.go worker-pool/godirwalk shape, with
// processWorkItem regeneralized from single-file summarize-then-embed to
// serializer.Serialize + ai.Client.EmbedBatch + store.ChunkStore's upsert
// pair.
package indexer

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/ariel1441/hebrag/internal/ai"
	"github.com/ariel1441/hebrag/internal/config"
	"github.com/ariel1441/hebrag/internal/serializer"
	"github.com/ariel1441/hebrag/internal/store"
	"github.com/ariel1441/hebrag/pkg/models"
)

// FileSystemWalker defines the interface for walking directories.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk.
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os.
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Indexer walks RepoRoot for per-record JSON files and (re)builds their
// chunk sets in Store.
type Indexer struct {
	Store      store.ChunkStore
	RepoRoot   string
	Client     ai.Client
	Serializer *serializer.Serializer
	Walker     FileSystemWalker
	FileReader FileReader
}

// New builds an Indexer from the configured field tiers and chunking
// parameters.
func New(st store.ChunkStore, client ai.Client, fields []config.FieldSpec, retrieval config.Retrieval, repoRoot string) *Indexer {
	return &Indexer{
		Store:      st,
		RepoRoot:   repoRoot,
		Client:     client,
		Serializer: serializer.New(fields, retrieval),
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// NewWithDependencies builds an Indexer with injected dependencies, for
// testing.
func NewWithDependencies(st store.ChunkStore, client ai.Client, ser *serializer.Serializer, walker FileSystemWalker, fileReader FileReader, repoRoot string) *Indexer {
	return &Indexer{
		Store:      st,
		RepoRoot:   repoRoot,
		Client:     client,
		Serializer: ser,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// workItem is one record JSON file to be processed.
type workItem struct {
	path    string
	content []byte
}

// processWorkItem parses one record file, serializes and chunks it, embeds
// the chunks, and upserts the record and its chunk set. A record that
// serializes to nothing (no configured field present) is logged and
// skipped, not an error — the teacher's naiveChunk never skipped since
// every file has content, but a JSON record can legitimately be empty.
func (ix *Indexer) processWorkItem(ctx context.Context, item workItem) error {
	var record models.Record
	if err := json.Unmarshal(item.content, &record); err != nil {
		log.Warn().Err(err).Str("path", item.path).Msg("invalid record json, skipping")
		return nil
	}

	recordID, ok := record.RequestID()
	if !ok {
		log.Warn().Str("path", item.path).Msg("record has no request id, skipping")
		return nil
	}

	chunks, skipped := ix.Serializer.Serialize(record)
	if skipped {
		log.Warn().Str("record_id", recordID).Msg("record serialized to no content, skipping")
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.Client.EmbedBatch(texts)
	if err != nil {
		return err
	}

	if err := ix.Store.UpsertRequest(ctx, record); err != nil {
		return err
	}
	if err := ix.Store.UpsertChunks(ctx, chunks, vectors); err != nil {
		return err
	}

	log.Info().Str("record_id", recordID).Int("chunks", len(chunks)).Msg("indexed record")
	return nil
}

// Run walks RepoRoot and indexes every record file it finds with a bounded
// worker pool, the same shape as the teacher's Indexer.Run: one goroutine
// per worker draining a buffered channel, capped at 8 so a large directory
// doesn't overwhelm the embedding backend.
func (ix *Indexer) Run(ctx context.Context) error {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8
	}

	log.Info().Int("workers", numWorkers).Msg("starting concurrent indexing")

	workChan := make(chan workItem, numWorkers*2)
	errorChan := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				if err := ix.processWorkItem(ctx, item); err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("path", item.path).Msg("worker processing error")
					}
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	go func() {
		wg.Wait()
		close(errorChan)
	}()

	walkErr := ix.Walker.Walk(ix.RepoRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if !strings.HasSuffix(strings.ToLower(path), ".json") {
				return nil
			}

			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, content: b}:
			case <-ctx.Done():
				return ctx.Err()
			}

			return nil
		},
	})

	close(workChan)
	wg.Wait()

	select {
	case err := <-errorChan:
		if err != nil {
			return err
		}
	default:
	}

	return walkErr
}
