package agentlens

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Repository is the persistence collaborator. The engine treats it as a
// plain async key/value + query interface: it stores finished tasks and
// metrics, and answers related-element lookups used for deduplication
// decisions during traversal. No specific backend is assumed.
type Repository interface {
	SaveTasks(ctx context.Context, traceID string, tasks []*FlatTask) error
	SaveMetrics(ctx context.Context, traceID string, metrics []*Metric) error
	RelatedElements(ctx context.Context, artifactID, elementType string) ([]string, error)
}

// FileRepository persists analysis results as JSON files, one pair of
// files per trace.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a FileRepository writing to the given directory.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// SaveTasks writes the flattened tasks to {dir}/{trace_id}.tasks.json,
// sorted by hierarchical name for stable output.
func (r *FileRepository) SaveTasks(_ context.Context, traceID string, tasks []*FlatTask) error {
	sorted := append([]*FlatTask{}, tasks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return r.writeJSON(traceID+".tasks.json", sorted)
}

// SaveMetrics writes the metric records to {dir}/{trace_id}.metrics.json.
func (r *FileRepository) SaveMetrics(_ context.Context, traceID string, metrics []*Metric) error {
	return r.writeJSON(traceID+".metrics.json", metrics)
}

// RelatedElements always returns nothing: the file backend records
// results but keeps no queryable index.
func (r *FileRepository) RelatedElements(_ context.Context, _, _ string) ([]string, error) {
	return nil, nil
}

func (r *FileRepository) writeJSON(name string, v any) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create output directory", goerr.V("dir", r.dir))
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}

	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write output file", goerr.V("path", path))
	}

	return nil
}

// MemoryRepository is a map-backed Repository for tests and embedding.
type MemoryRepository struct {
	mu      sync.RWMutex
	tasks   map[string][]*FlatTask
	metrics map[string][]*Metric
	related map[string][]string // artifactID:elementType -> element names
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:   map[string][]*FlatTask{},
		metrics: map[string][]*Metric{},
		related: map[string][]string{},
	}
}

func (r *MemoryRepository) SaveTasks(_ context.Context, traceID string, tasks []*FlatTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[traceID] = append([]*FlatTask{}, tasks...)
	return nil
}

func (r *MemoryRepository) SaveMetrics(_ context.Context, traceID string, metrics []*Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[traceID] = append([]*Metric{}, metrics...)
	return nil
}

func (r *MemoryRepository) RelatedElements(_ context.Context, artifactID, elementType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.related[artifactID+":"+elementType], nil
}

// AddRelatedElement records a related element for later lookup.
func (r *MemoryRepository) AddRelatedElement(artifactID, elementType, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := artifactID + ":" + elementType
	r.related[key] = append(r.related[key], name)
}

// Tasks returns the tasks stored for a trace.
func (r *MemoryRepository) Tasks(traceID string) []*FlatTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[traceID]
}

// Metrics returns the metrics stored for a trace.
func (r *MemoryRepository) Metrics(traceID string) []*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[traceID]
}

var (
	_ Repository = (*FileRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
