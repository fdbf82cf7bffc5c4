package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Document is an entry in the gateway's document index, served by the
// search and fetch tools.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// Index is the shared in-memory document store behind search and fetch.
// Deployments replace its contents at startup; the tools only read it.
type Index struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewIndex(docs ...Document) *Index {
	idx := &Index{docs: make(map[string]Document, len(docs))}
	for _, d := range docs {
		idx.docs[d.ID] = d
	}
	return idx
}

// Put adds or replaces a document.
func (i *Index) Put(d Document) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs[d.ID] = d
}

// Get returns a document by id.
func (i *Index) Get(id string) (Document, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.docs[id]
	return d, ok
}

// Search returns documents whose title or content contains every query
// term, case-insensitively, sorted by id for stable output.
func (i *Index) Search(query string, limit int) []Document {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var hits []Document
	for _, d := range i.docs {
		haystack := strings.ToLower(d.Title + " " + d.Content)
		matched := true
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				matched = false
				break
			}
		}
		if matched {
			hit := d
			hit.Content = "" // search results carry snippets only
			hits = append(hits, hit)
		}
	}

	sort.Slice(hits, func(a, b int) bool { return hits[a].ID < hits[b].ID })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// SearchTool queries the document index. Read-only, so it dispatches
// without approval.
type SearchTool struct {
	Index *Index
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type searchResult struct {
	Results []Document `json:"results"`
}

func (t *SearchTool) Name() string           { return "search" }
func (t *SearchTool) Description() string    { return "Search the document index by keyword." }
func (t *SearchTool) RequiredScope() string  { return "mcp:search" }
func (t *SearchTool) RequiresApproval() bool { return false }

func (t *SearchTool) Execute(_ context.Context, args json.RawMessage, _ Invocation) (json.RawMessage, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrBadArguments)
	}
	if in.Limit <= 0 || in.Limit > 50 {
		in.Limit = 10
	}

	hits := t.Index.Search(in.Query, in.Limit)
	if hits == nil {
		hits = []Document{}
	}
	return json.Marshal(searchResult{Results: hits})
}
