package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/entrhq/inquest/pkg/agent/memory"
	"github.com/entrhq/inquest/pkg/agent/prompts"
	"github.com/entrhq/inquest/pkg/llm"
	"github.com/entrhq/inquest/pkg/types"
)

// Synthesizer streams the final answer for a query from the memory store.
// Relevance selection decides which persisted records to rehydrate in full;
// the loop itself only ever saw their compact descriptions.
type Synthesizer struct {
	provider llm.Provider
	store    *memory.Store
}

// NewSynthesizer creates a Synthesizer over the given provider and store.
func NewSynthesizer(provider llm.Provider, store *memory.Store) *Synthesizer {
	return &Synthesizer{provider: provider, store: store}
}

// Answer streams the answer text for a query. With no usable retrieved data
// the answer is produced from model knowledge alone, with the prompt noting
// the absence of data. The returned error only covers failure to start the
// stream; mid-stream failures arrive as error chunks.
func (s *Synthesizer) Answer(ctx context.Context, query, queryID string) (<-chan *llm.StreamChunk, error) {
	pointers := s.store.ListPointers(queryID)
	if len(pointers) == 0 {
		return s.streamNoData(ctx, query)
	}

	ids := s.store.SelectRelevant(ctx, query, pointers)
	if len(ids) == 0 {
		return s.streamNoData(ctx, query)
	}

	records := s.store.Load(ids)
	if len(records) == 0 {
		return s.streamNoData(ctx, query)
	}

	payloads := make([]string, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, formatRecord(record))
	}

	return s.provider.InvokeStream(ctx, &llm.Request{
		SystemPrompt: prompts.AnswerSystemPrompt,
		Prompt:       prompts.BuildAnswerPrompt(query, payloads),
	})
}

func (s *Synthesizer) streamNoData(ctx context.Context, query string) (<-chan *llm.StreamChunk, error) {
	return s.provider.InvokeStream(ctx, &llm.Request{
		SystemPrompt: prompts.NoDataAnswerSystemPrompt,
		Prompt:       prompts.BuildNoDataPrompt(query),
	})
}

func formatRecord(record *memory.Record) string {
	argsJSON, err := json.Marshal(record.Meta.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	result := record.RawResult
	if record.Meta.IsError {
		result = "(call failed) " + result
	}
	return prompts.FormatToolPayload(record.Meta.ToolName, string(argsJSON), result)
}

// answer runs the synthesis phase of a run, forwarding stream chunks as
// answer events.
func (o *Orchestrator) answer(ctx context.Context, state *runState) error {
	o.emit(types.NewAnswerStartEvent())

	chunks, err := o.synth.Answer(ctx, state.query, state.queryID)
	if err != nil {
		return fmt.Errorf("answer synthesis failed: %w", err)
	}

	for chunk := range chunks {
		if chunk.IsError() {
			return fmt.Errorf("answer stream failed: %w", chunk.Error)
		}
		if chunk.Content != "" {
			o.emit(types.NewAnswerChunkEvent(chunk.Content))
		}
		if chunk.Usage != nil {
			o.recordUsage(state, chunk.Usage)
		}
	}
	return nil
}
