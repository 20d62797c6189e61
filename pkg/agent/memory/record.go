package memory

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/entrhq/inquest/pkg/agent/scratchpad"
	"gopkg.in/yaml.v3"
)

// RecordMeta holds the YAML front-matter fields of a persisted record.
type RecordMeta struct {
	ID          string                 `yaml:"id"`
	ToolName    string                 `yaml:"tool"`
	Args        map[string]interface{} `yaml:"args,omitempty"`
	Description string                 `yaml:"description"`
	QueryID     string                 `yaml:"query_id,omitempty"`
	SourceURLs  []string               `yaml:"source_urls,omitempty"`
	IsError     bool                   `yaml:"is_error,omitempty"`
	CreatedAt   time.Time              `yaml:"created_at"`
}

// Record is one persisted tool output. Created once per completed invocation
// (success or failure), immutable thereafter, durable beyond one run. The
// pointer index holds records without RawResult; Load rehydrates it.
type Record struct {
	Meta RecordMeta

	// RawResult is the full tool output. Empty on pointer-index copies.
	RawResult string
}

// Validate ensures required record metadata fields are populated.
func (m *RecordMeta) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory: missing ID")
	}
	if m.ToolName == "" {
		return fmt.Errorf("memory: missing ToolName")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("memory: missing CreatedAt")
	}
	return nil
}

// RecordID derives the stable record identifier from the call's canonical key.
func RecordID(toolName string, args map[string]interface{}) string {
	sum := sha256.Sum256([]byte(scratchpad.CallKey(toolName, args)))
	return "mem_" + hex.EncodeToString(sum[:])[:16]
}

const frontMatterDelimiter = "---\n"

// Serialize renders a record as YAML front matter followed by the raw result.
func Serialize(r *Record) ([]byte, error) {
	if err := r.Meta.Validate(); err != nil {
		return nil, err
	}
	meta, err := yaml.Marshal(&r.Meta)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelimiter)
	buf.Write(meta)
	buf.WriteString(frontMatterDelimiter)
	buf.WriteString(r.RawResult)
	return buf.Bytes(), nil
}

// Parse decodes a serialized record. The raw result body is everything after
// the second front-matter delimiter, verbatim.
func Parse(b []byte) (*Record, error) {
	s := string(b)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return nil, fmt.Errorf("memory: missing front matter")
	}
	rest := s[len(frontMatterDelimiter):]
	end := strings.Index(rest, frontMatterDelimiter)
	if end < 0 {
		return nil, fmt.Errorf("memory: unterminated front matter")
	}

	var meta RecordMeta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, fmt.Errorf("memory: parse front matter: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	return &Record{
		Meta:      meta,
		RawResult: rest[end+len(frontMatterDelimiter):],
	}, nil
}

var keyCleaner = regexp.MustCompile(`[^a-z0-9_-]+`)

// StorageKey derives the durable blob key for a record: an entity hint (such
// as a ticker) plus tool name plus a short hash, falling back to tool+hash
// when no hint is present in the arguments.
func StorageKey(toolName string, args map[string]interface{}) string {
	sum := sha256.Sum256([]byte(scratchpad.CallKey(toolName, args)))
	short := hex.EncodeToString(sum[:])[:8]

	if hint := entityHint(args); hint != "" {
		return fmt.Sprintf("%s-%s-%s", hint, toolName, short)
	}
	return fmt.Sprintf("%s-%s", toolName, short)
}

// entityHint extracts a short recognizable slug from the arguments.
func entityHint(args map[string]interface{}) string {
	for _, field := range []string{"ticker", "symbol", "entity"} {
		if v, ok := args[field].(string); ok && v != "" {
			slug := keyCleaner.ReplaceAllString(strings.ToLower(v), "")
			if len(slug) > 24 {
				slug = slug[:24]
			}
			return slug
		}
	}
	return ""
}
