// Package memory implements the external memory store for tool outputs.
//
// Full tool results can be large (statements, filing text), so the store
// keeps a two-tier model: compact descriptions live in an in-process pointer
// index consulted during the loop, while full payloads are written durably
// and rehydrated lazily, only for the records judged relevant at answer time.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/inquest/pkg/llm"
	"github.com/entrhq/inquest/pkg/logging"
)

var memoryDebugLog *logging.Logger

func init() {
	var err error
	memoryDebugLog, err = logging.NewLogger("memory")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		memoryDebugLog.Warnf("Failed to initialize memory logger, using stderr fallback: %v", err)
	}
}

// Store persists raw tool outputs by content hash and exposes a pointer index
// plus a model-backed relevance selector. A Store may be shared by reference
// across the pipeline, orchestrator, and synthesis for one session; each
// on-disk record is owned by whichever run created it and read-only after.
type Store struct {
	blobs    BlobStore
	provider llm.Provider

	mu      sync.RWMutex
	records map[string]*Record            // id -> pointer copy (no raw result)
	keys    map[string]string             // id -> blob storage key
	byQuery map[string]map[string]struct{} // queryID -> set of ids
}

// NewStore creates a Store over the given blob store. The provider is used
// only for relevance selection and may be nil in tests that never select.
func NewStore(blobs BlobStore, provider llm.Provider) *Store {
	return &Store{
		blobs:    blobs,
		provider: provider,
		records:  make(map[string]*Record),
		keys:     make(map[string]string),
		byQuery:  make(map[string]map[string]struct{}),
	}
}

// Persist writes a completed tool output durably and updates the global and
// per-query indexes. Idempotent by identity: re-persisting the same call
// overwrites the previous record.
func (s *Store) Persist(toolName string, args map[string]interface{}, rawResult, queryID string) (*Record, error) {
	return s.persist(toolName, args, rawResult, queryID, false)
}

// PersistError records a failed invocation so later iterations can see that
// this call was already attempted and failed.
func (s *Store) PersistError(toolName string, args map[string]interface{}, failure, queryID string) (*Record, error) {
	return s.persist(toolName, args, failure, queryID, true)
}

func (s *Store) persist(toolName string, args map[string]interface{}, rawResult, queryID string, isError bool) (*Record, error) {
	description := DescribeCall(toolName, args)
	if isError {
		description = "FAILED: " + description
	}

	record := &Record{
		Meta: RecordMeta{
			ID:          RecordID(toolName, args),
			ToolName:    toolName,
			Args:        args,
			Description: description,
			QueryID:     queryID,
			SourceURLs:  extractSourceURLs(rawResult),
			IsError:     isError,
			CreatedAt:   time.Now().UTC(),
		},
		RawResult: rawResult,
	}

	data, err := Serialize(record)
	if err != nil {
		return nil, err
	}

	key := StorageKey(toolName, args)
	if err := s.blobs.Write(key, data); err != nil {
		return nil, err
	}

	pointer := &Record{Meta: record.Meta}

	s.mu.Lock()
	s.records[record.Meta.ID] = pointer
	s.keys[record.Meta.ID] = key
	if queryID != "" {
		if s.byQuery[queryID] == nil {
			s.byQuery[queryID] = make(map[string]struct{})
		}
		s.byQuery[queryID][record.Meta.ID] = struct{}{}
	}
	s.mu.Unlock()

	memoryDebugLog.Debugf("Persisted %s as %s (query=%s, error=%v)", record.Meta.ID, key, queryID, isError)
	return record, nil
}

// ListPointers returns pointer copies of all indexed records, filtered by
// queryID when non-empty. Pointer copies carry metadata only.
func (s *Store) ListPointers(queryID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	if queryID != "" {
		for id := range s.byQuery[queryID] {
			if r, ok := s.records[id]; ok {
				out = append(out, r)
			}
		}
		return out
	}
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// selectionSchema is the structured-output schema for relevance selection.
var selectionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"ids": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
	"required": []string{"ids"},
}

// SelectRelevant asks the model which of the given pointers are worth loading
// in full to answer the query. Fail-open: any failure (model unreachable,
// unparseable output, unknown ids only) returns every pointer id rather than
// silently dropping data.
func (s *Store) SelectRelevant(ctx context.Context, query string, pointers []*Record) []string {
	if len(pointers) == 0 {
		return nil
	}

	allIDs := make([]string, 0, len(pointers))
	known := make(map[string]struct{}, len(pointers))
	var sb strings.Builder
	for _, p := range pointers {
		allIDs = append(allIDs, p.Meta.ID)
		known[p.Meta.ID] = struct{}{}
		fmt.Fprintf(&sb, "- %s: %s\n", p.Meta.ID, p.Meta.Description)
	}

	if s.provider == nil {
		return allIDs
	}

	prompt := fmt.Sprintf(
		"Question: %s\n\nRetrieved data available:\n%s\nReturn the ids of the entries needed to answer the question. Omit entries that are irrelevant or redundant.",
		query, sb.String(),
	)

	resp, err := s.provider.Invoke(ctx, &llm.Request{
		SystemPrompt: "You select which retrieved data records are relevant to answering a question. Respond with JSON only.",
		Prompt:       prompt,
		OutputSchema: selectionSchema,
	})
	if err != nil {
		memoryDebugLog.Warnf("Relevance selection failed, treating all %d pointers as relevant: %v", len(pointers), err)
		return allIDs
	}

	var parsed struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(resp.Structured, &parsed); err != nil {
		memoryDebugLog.Warnf("Relevance selection returned unparseable output, treating all pointers as relevant: %v", err)
		return allIDs
	}

	var selected []string
	for _, id := range parsed.IDs {
		if _, ok := known[id]; ok {
			selected = append(selected, id)
		}
	}
	return selected
}

// Load reads the full records for the given ids. A record that fails to read
// or deserialize is skipped with a warning, not fatal.
func (s *Store) Load(ids []string) []*Record {
	var out []*Record
	for _, id := range ids {
		s.mu.RLock()
		key, ok := s.keys[id]
		s.mu.RUnlock()
		if !ok {
			memoryDebugLog.Warnf("Skipping unknown record id %s", id)
			continue
		}

		data, err := s.blobs.Read(key)
		if err != nil {
			memoryDebugLog.Warnf("Skipping unreadable record %s (%s): %v", id, key, err)
			continue
		}
		record, err := Parse(data)
		if err != nil {
			memoryDebugLog.Warnf("Skipping corrupt record %s (%s): %v", id, key, err)
			continue
		}
		out = append(out, record)
	}
	return out
}

// extractSourceURLs pulls http(s) URLs out of a raw result, capped at a few
// entries so the front matter stays small.
func extractSourceURLs(raw string) []string {
	const maxURLs = 5
	var urls []string
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(raw) {
		trimmed := strings.Trim(field, `"',;)]}`)
		if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		urls = append(urls, trimmed)
		if len(urls) >= maxURLs {
			break
		}
	}
	return urls
}
