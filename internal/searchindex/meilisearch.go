package searchindex

import (
	"context"
	"fmt"

	"github.com/meilisearch/meilisearch-go"
)

// MeiliAdapter is the production Adapter, a thin wrapper over
// meilisearch-go that converts Document <-> the client's map[string]any
// document shape.
type MeiliAdapter struct {
	client meilisearch.ServiceManager
}

func NewMeiliAdapter(host, apiKey string) *MeiliAdapter {
	return &MeiliAdapter{client: meilisearch.New(host, meilisearch.WithAPIKey(apiKey))}
}

func toDoc(d Document) map[string]any {
	return map[string]any{
		"id":                d.ID,
		"chat_id":           d.ChatID,
		"workspace_id":      d.WorkspaceID,
		"sender_id":         d.SenderID,
		"sender_name":       d.SenderName,
		"content":           d.Content,
		"content_highlights": d.ContentHighlights,
		"files":             d.Files,
		"file_names":        d.FileNames,
		"created_at":        d.CreatedAt.UnixMilli(),
		"chat_name":         d.ChatName,
		"chat_type":         d.ChatType,
	}
}

func (m *MeiliAdapter) IndexDocument(ctx context.Context, index string, doc Document) error {
	_, err := m.client.Index(index).AddDocuments([]map[string]any{toDoc(doc)}, nil)
	if err != nil {
		return fmt.Errorf("searchindex: index document %s: %w", doc.ID, err)
	}
	return nil
}

func (m *MeiliAdapter) UpdateDocument(ctx context.Context, index string, doc Document) error {
	_, err := m.client.Index(index).UpdateDocuments([]map[string]any{toDoc(doc)}, nil)
	if err != nil {
		return fmt.Errorf("searchindex: update document %s: %w", doc.ID, err)
	}
	return nil
}

func (m *MeiliAdapter) DeleteDocument(ctx context.Context, index string, id string) error {
	_, err := m.client.Index(index).DeleteDocument(id)
	if err != nil {
		return fmt.Errorf("searchindex: delete document %s: %w", id, err)
	}
	return nil
}

func (m *MeiliAdapter) Search(ctx context.Context, index string, q SearchQuery) (*SearchResult, error) {
	filters := map[string]any{}
	for k, v := range q.Filters {
		filters[k] = v
	}
	filters["chat_id"] = q.ChatID
	filters["workspace_id"] = q.WorkspaceID

	req := &meilisearch.SearchRequest{
		Limit:  int64(q.Limit),
		Offset: int64(q.Offset),
		Filter: BuildFilterExpression(filters),
	}
	resp, err := m.client.Index(index).Search(q.Query, req)
	if err != nil {
		return nil, fmt.Errorf("searchindex: search index %s: %w", index, err)
	}

	hits := make([]map[string]any, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		if m, ok := h.(map[string]any); ok {
			hits = append(hits, m)
		}
	}
	return &SearchResult{
		Hits:               hits,
		EstimatedTotalHits: resp.EstimatedTotalHits,
		ProcessingTimeMS:   resp.ProcessingTimeMs,
	}, nil
}
