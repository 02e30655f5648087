package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/agentmemory/memoryd/internal/contradiction"
	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
	"github.com/agentmemory/memoryd/internal/usage"
)

// RememberInput is the validated input to Remember.
type RememberInput struct {
	AgentID    string
	Text       string
	Tags       []string
	Metadata   map[string]interface{}
	TTLSeconds *int
	ProjectID  string
}

func (s *Service) validateRemember(in RememberInput) error {
	if in.AgentID == "" {
		return validationErr("agentId is required")
	}
	if len(in.Text) == 0 || len(in.Text) > s.Limits.MaxTextLen {
		return validationErr("text must be 1..%d characters", s.Limits.MaxTextLen)
	}
	if len(in.Tags) > s.Limits.MaxTags {
		return validationErr("at most %d tags allowed", s.Limits.MaxTags)
	}
	for _, t := range in.Tags {
		if len(t) > s.Limits.MaxTagLen {
			return validationErr("tag %q exceeds %d characters", t, s.Limits.MaxTagLen)
		}
	}
	if in.TTLSeconds != nil && *in.TTLSeconds <= 0 {
		return validationErr("ttlSeconds must be positive")
	}
	return nil
}

// Remember embeds the text and inserts the new memory, then runs contradiction
// detection against the stored memory. Detection runs after the insert, so a
// detection error is logged and does not undo the insert.
func (s *Service) Remember(ctx context.Context, in RememberInput) (*memory.Memory, error) {
	if err := s.validateRemember(in); err != nil {
		return nil, err
	}

	ctx = usage.WithStack(ctx)
	release := usage.Push(ctx, usage.Frame{Operation: "remember", AgentID: in.AgentID})
	defer release()

	vectors, err := s.Embedder.Embed(ctx, []string{in.Text}, embedding.HintDocument)
	if err != nil {
		return nil, newErr(KindUnavailable, "embedding unavailable", err)
	}

	m := &memory.Memory{
		AgentID:    in.AgentID,
		ProjectID:  in.ProjectID,
		Text:       in.Text,
		Tags:       in.Tags,
		Metadata:   in.Metadata,
		Embedding:  vectors[0],
		MemoryType: memory.DefaultMemoryType,
		Layer:      memory.DefaultLayer,
		Confidence: memory.InitialConfidence(memory.DefaultMemoryType),
		Strength:   1.0,
	}
	if in.TTLSeconds != nil {
		exp := time.Now().UTC().Add(time.Duration(*in.TTLSeconds) * time.Second)
		m.ExpiresAt = &exp
	}

	id, err := s.Store.Insert(m)
	if err != nil {
		return nil, newErr(KindInternal, "failed to store memory", err)
	}
	m.ID = id

	// Non-fatal per spec §7: log and proceed on contradiction-detector error.
	if _, err := contradiction.Detect(s.Store, m); err != nil {
		log.Printf("[API] remember %s: contradiction detection failed: %v", id, err)
	}

	return m, nil
}

// Forget deletes a single memory by id.
func (s *Service) Forget(id string) (int, error) {
	if id == "" {
		return 0, validationErr("id is required")
	}
	if err := s.Store.Delete(id); err != nil {
		return 0, translate("forget", err)
	}
	return 1, nil
}

// Clear deletes every memory for agentID.
func (s *Service) Clear(agentID string) (int64, error) {
	if agentID == "" {
		return 0, validationErr("agentId is required")
	}
	n, err := s.Store.DeleteWhere(store.Filter{AgentID: agentID})
	if err != nil {
		return 0, newErr(KindInternal, "clear failed", err)
	}
	return n, nil
}

// Purge deletes memories for agentID created before olderThan.
func (s *Service) Purge(agentID string, olderThan time.Time) (int64, error) {
	if agentID == "" {
		return 0, validationErr("agentId is required")
	}
	n, err := s.Store.DeleteWhere(store.Filter{AgentID: agentID, CreatedBefore: &olderThan})
	if err != nil {
		return 0, newErr(KindInternal, "purge failed", err)
	}
	return n, nil
}

// RestoreMemory is one item in a Restore batch.
type RestoreMemory struct {
	Text     string
	Tags     []string
	Metadata map[string]interface{}
}

// RestoreResult reports what happened during Restore.
type RestoreResult struct {
	TotalReceived int
	TotalInserted int
	Errors        []string
}

// Restore re-inserts a batch of memories, embedding RestoreBatchSize texts
// together per spec §6. A failed batch is recorded in Errors and does not
// abort the remaining batches.
func (s *Service) Restore(ctx context.Context, agentID, projectID string, items []RestoreMemory) (RestoreResult, error) {
	if agentID == "" {
		return RestoreResult{}, validationErr("agentId is required")
	}

	ctx = usage.WithStack(ctx)
	release := usage.Push(ctx, usage.Frame{Operation: "restore", AgentID: agentID})
	defer release()

	result := RestoreResult{TotalReceived: len(items)}
	batchSize := s.Limits.RestoreBatchSize

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		texts := make([]string, len(batch))
		for i, it := range batch {
			texts[i] = it.Text
		}
		vectors, err := s.Embedder.Embed(ctx, texts, embedding.HintDocument)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d-%d: embed failed: %v", start, end, err))
			continue
		}

		for i, it := range batch {
			m := &memory.Memory{
				AgentID: agentID, ProjectID: projectID, Text: it.Text, Tags: it.Tags, Metadata: it.Metadata,
				Embedding: vectors[i], MemoryType: memory.DefaultMemoryType, Layer: memory.DefaultLayer,
				Confidence: memory.InitialConfidence(memory.DefaultMemoryType), Strength: 1.0,
			}
			if _, err := s.Store.Insert(m); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("item %d: insert failed: %v", start+i, err))
				continue
			}
			result.TotalInserted++
		}
	}

	return result, nil
}
