// Package searchindex implements C7: a D-stream subscriber that applies
// SearchIndexUpdateRequired events to an external full-text index
// (spec.md §4.7). Grounded directly on
// original_source/fechatter_server/src/services/infrastructure/search/meilisearch.rs
// for the document shape, filter-expression conversion, and the
// index_document/search/delete_document/update_document adapter
// contract it names.
package searchindex

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/events"
	"github.com/Kevinzh0C/fechatter-core/internal/message"
)

// Document is the message search document spec.md §4.7 names field for
// field.
type Document struct {
	ID                 string
	ChatID             int64
	WorkspaceID        int64
	SenderID           int64
	SenderName         string
	Content            string
	ContentHighlights  []string
	Files              []string
	FileNames          string
	CreatedAt          time.Time
	ChatName           string
	ChatType           string
}

// SearchQuery is the request shape the adapter's Search accepts.
// Filters is a structured mapping; list values map to an "IN [...]"
// clause, scalars to an equality clause (spec.md §4.7 "Contract with
// adapter").
type SearchQuery struct {
	Query     string
	Filters   map[string]any
	Limit     int
	Offset    int
	ChatID    int64 // required: in-chat search is primary
	WorkspaceID int64 // required: data isolation
}

// SearchResult mirrors the adapter's raw hit shape; callers decode
// individual hits as needed.
type SearchResult struct {
	Hits              []map[string]any
	EstimatedTotalHits int64
	ProcessingTimeMS  int64
}

// Adapter is the external search boundary spec.md §4.7 names explicitly:
// index_document, search, delete_document, update_document.
type Adapter interface {
	IndexDocument(ctx context.Context, index string, doc Document) error
	UpdateDocument(ctx context.Context, index string, doc Document) error
	DeleteDocument(ctx context.Context, index string, id string) error
	Search(ctx context.Context, index string, q SearchQuery) (*SearchResult, error)
}

// BuildFilterExpression converts a structured filter map into the
// adapter's expression language, the same conversion
// meilisearch.rs's build_filter_expression performs: list values become
// `key IN [...]`, scalars become `key = value`.
func BuildFilterExpression(filters map[string]any) string {
	if len(filters) == 0 {
		return ""
	}
	var parts []string
	for k, v := range filters {
		switch val := v.(type) {
		case []string:
			quoted := make([]string, len(val))
			for i, s := range val {
				quoted[i] = fmt.Sprintf("%q", s)
			}
			parts = append(parts, fmt.Sprintf("%s IN [%s]", k, strings.Join(quoted, ", ")))
		case []int64:
			strs := make([]string, len(val))
			for i, n := range val {
				strs[i] = strconv.FormatInt(n, 10)
			}
			parts = append(parts, fmt.Sprintf("%s IN [%s]", k, strings.Join(strs, ", ")))
		case string:
			parts = append(parts, fmt.Sprintf("%s = %q", k, val))
		case bool:
			parts = append(parts, fmt.Sprintf("%s = %t", k, val))
		default:
			parts = append(parts, fmt.Sprintf("%s = %v", k, val))
		}
	}
	return strings.Join(parts, " AND ")
}

// Subscriber consumes SearchIndexUpdateRequired system events and applies
// them to Adapter.
type Subscriber struct {
	adapter Adapter
	index   string
	log     zerolog.Logger
	// MessageSource resolves the full message + chat context a bare
	// SearchIndexUpdateRequired{entity_id} needs to build a Document,
	// since the system event itself carries only id+operation.
	MessageSource func(ctx context.Context, messageID int64) (*message.Message, ChatContext, error)
}

// ChatContext is the denormalized chat metadata a Document embeds.
type ChatContext struct {
	WorkspaceID int64
	ChatName    string
	ChatType    string
	SenderName  string
}

func NewSubscriber(adapter Adapter, index string, log zerolog.Logger) *Subscriber {
	return &Subscriber{adapter: adapter, index: index, log: log}
}

// HandleSystemEvent applies a SearchIndexUpdateRequired event.
func (s *Subscriber) HandleSystemEvent(ctx context.Context, sp events.SystemPayload) error {
	if sp.Kind != events.SystemSearchIndexUpdateRequired || sp.EntityType != "message" {
		return nil
	}

	docID := strconv.FormatInt(sp.EntityID, 10)

	switch sp.Operation {
	case "delete":
		return s.adapter.DeleteDocument(ctx, s.index, docID)
	case "create", "update":
		if s.MessageSource == nil {
			return fmt.Errorf("searchindex: no MessageSource configured for entity %d", sp.EntityID)
		}
		msg, cc, err := s.MessageSource(ctx, sp.EntityID)
		if err != nil {
			return fmt.Errorf("searchindex: resolve message %d: %w", sp.EntityID, err)
		}
		doc := buildDocument(msg, cc)
		if sp.Operation == "create" {
			return s.adapter.IndexDocument(ctx, s.index, doc)
		}
		return s.adapter.UpdateDocument(ctx, s.index, doc)
	default:
		return fmt.Errorf("searchindex: unknown operation %q", sp.Operation)
	}
}

func buildDocument(msg *message.Message, cc ChatContext) Document {
	files := make([]string, len(msg.Files))
	names := make([]string, len(msg.Files))
	for i, f := range msg.Files {
		files[i] = f.URL
		names[i] = filepath.Base(f.Filename)
	}
	return Document{
		ID:                strconv.FormatInt(msg.ID, 10),
		ChatID:            msg.ChatID,
		WorkspaceID:       cc.WorkspaceID,
		SenderID:          msg.SenderID,
		SenderName:        cc.SenderName,
		Content:           msg.Content,
		ContentHighlights: nil,
		Files:             files,
		FileNames:         strings.Join(names, " "),
		CreatedAt:         msg.CreatedAt,
		ChatName:          cc.ChatName,
		ChatType:          cc.ChatType,
	}
}
