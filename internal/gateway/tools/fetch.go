package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDocumentNotFound reports a fetch for an id the index does not hold.
var ErrDocumentNotFound = errors.New("tools: document not found")

// FetchTool retrieves a full document by id. Fetching exposes complete
// content rather than snippets, so it parks for approval by default.
type FetchTool struct {
	Index *Index
}

type fetchArgs struct {
	ID string `json:"id"`
}

func (t *FetchTool) Name() string           { return "fetch" }
func (t *FetchTool) Description() string    { return "Fetch the full content of a document by id." }
func (t *FetchTool) RequiredScope() string  { return "mcp:fetch" }
func (t *FetchTool) RequiresApproval() bool { return true }

func (t *FetchTool) Execute(_ context.Context, args json.RawMessage, _ Invocation) (json.RawMessage, error) {
	var in fetchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if in.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrBadArguments)
	}

	doc, ok := t.Index.Get(in.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, in.ID)
	}
	return json.Marshal(doc)
}
