// Package archive provides a searchable full-text index of finished
// delegation tasks.
//
// Terminal task records are indexed with Bleve so an orchestrator can
// recall past delegations by content long after the live store has grown
// large. The archive is an accessory: indexing failures degrade search
// results, they never affect task execution.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/vinayprograms/taskbroker/tasks"
	"github.com/vinayprograms/taskbroker/worker"
)

// taskDocument is the indexed form of one finished task.
type taskDocument struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	State       string    `json:"state"`
	Input       string    `json:"input"`
	Result      string    `json:"result"`
	Error       string    `json:"error"`
	CompletedAt time.Time `json:"completed_at"`
}

// Hit is one search result.
type Hit struct {
	ID     string
	Agent  string
	State  string
	Input  string
	Result string
	Score  float64
}

// Archive indexes terminal task records for full-text recall.
type Archive struct {
	mu    sync.RWMutex
	index bleve.Index
}

// Open opens or creates an archive index under dir.
func Open(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	indexPath := filepath.Join(dir, "tasks.bleve")

	var index bleve.Index
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create archive index: %w", err)
		}
	} else {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive index: %w", err)
		}
	}

	return &Archive{index: index}, nil
}

// buildIndexMapping creates the Bleve index mapping for task documents.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("input", textFieldMapping)
	docMapping.AddFieldMappingsAt("result", textFieldMapping)
	docMapping.AddFieldMappingsAt("error", textFieldMapping)
	docMapping.AddFieldMappingsAt("agent", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("state", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("completed_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Record indexes a finished task. Non-terminal tasks are ignored.
func (a *Archive) Record(t *tasks.Task) error {
	if t == nil || !t.State.IsTerminal() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	doc := taskDocument{
		ID:          t.ID,
		Agent:       t.Metadata[worker.MetaAgentName],
		State:       t.State.String(),
		Input:       t.Input,
		Result:      t.Result,
		Error:       t.Error,
		CompletedAt: t.UpdatedAt,
	}

	if err := a.index.Index(t.ID, doc); err != nil {
		return fmt.Errorf("failed to index task %s: %w", t.ID, err)
	}
	return nil
}

// Search runs a query-string search over archived tasks.
func (a *Archive) Search(queryStr string, limit int) ([]Hit, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	query := bleve.NewQueryStringQuery(queryStr)
	searchReq := bleve.NewSearchRequest(query)
	searchReq.Size = limit
	searchReq.Fields = []string{"agent", "state", "input", "result"}

	searchResult, err := a.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("archive search failed: %w", err)
	}

	var hits []Hit
	for _, h := range searchResult.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["agent"].(string); ok {
			hit.Agent = v
		}
		if v, ok := h.Fields["state"].(string); ok {
			hit.State = v
		}
		if v, ok := h.Fields["input"].(string); ok {
			hit.Input = v
		}
		if v, ok := h.Fields["result"].(string); ok {
			hit.Result = v
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// Count returns the number of archived tasks.
func (a *Archive) Count() (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.DocCount()
}

// Close closes the underlying index.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index.Close()
}

// FormatHits renders search hits as one line per task for a tool result.
func FormatHits(hits []Hit) string {
	if len(hits) == 0 {
		return "No archived tasks matched."
	}

	var b strings.Builder
	for i, h := range hits {
		preview := h.Result
		if h.State == tasks.StateFailed.String() {
			preview = h.Input
		}
		if runes := []rune(preview); len(runes) > 120 {
			preview = string(runes[:120]) + "..."
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s): %s\n", i+1, h.State, shortID(h.ID), h.Agent, preview)
	}
	return strings.TrimRight(b.String(), "\n")
}

// shortID truncates a task id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
