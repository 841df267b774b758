package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	meili "github.com/meilisearch/meilisearch-go"
)

const idxItems = "prdigy_roadmap_items"

// Meili implements Searcher via Meilisearch. All roadmap item kinds share one
// index and are told apart by the kind attribute.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *log.Logger
}

// NewMeili creates a Meilisearch client and configures the index. The client
// is returned even when the server is down; Healthy reports false until the
// background check sees it.
func NewMeili(url, apiKey string, logger *log.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxItems, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxItems, "err", err)
	}

	index := m.client.Index(idxItems)
	filterable := []interface{}{"roadmapId", "kind", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxItems, "err", err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxItems, "err", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if len(q.RoadmapIDs) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.Index(idxItems).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(q.limit()),
		Offset:                int64(q.offset()),
		Filter:                meiliFilter(q),
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// meiliFilter scopes a query to the caller's roadmaps and optional kind.
func meiliFilter(q Query) string {
	quoted := make([]string, len(q.RoadmapIDs))
	for i, id := range q.RoadmapIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	filter := fmt.Sprintf("roadmapId IN [%s]", strings.Join(quoted, ", "))
	if q.FilterType != "" {
		filter += fmt.Sprintf(" AND kind = %q", q.FilterType)
	}
	return filter
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		Type:      ResultType(decodeString(hit, "kind")),
		ID:        decodeString(hit, "id"),
		RoadmapID: decodeString(hit, "roadmapId"),
		Title:     firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:   firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexItems adds or replaces items in the index.
func (m *Meili) IndexItems(items []ItemRecord) error {
	if len(items) == 0 {
		return nil
	}
	_, err := m.client.Index(idxItems).AddDocuments(items, nil)
	return err
}

// DeleteItems removes items by id.
func (m *Meili) DeleteItems(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(idxItems).DeleteDocuments(ids, nil)
	return err
}

// DeleteRoadmap removes every item of a roadmap.
func (m *Meili) DeleteRoadmap(roadmapID string) error {
	_, err := m.client.Index(idxItems).DeleteDocumentsByFilter(fmt.Sprintf("roadmapId = %q", roadmapID), nil)
	return err
}
