package search

import "context"

// ResultType identifies the kind of roadmap item in a search result.
type ResultType string

const (
	ResultRoadmap ResultType = "roadmap"
	ResultEpic    ResultType = "epic"
	ResultFeature ResultType = "feature"
	ResultTask    ResultType = "task"
)

var resultTypes = []ResultType{ResultRoadmap, ResultEpic, ResultFeature, ResultTask}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	RoadmapID string     `json:"roadmapId"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
}

// Query describes a search request. RoadmapIDs bounds the search to the
// roadmaps the caller can read; an empty list matches nothing.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	RoadmapIDs []string
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for any roadmap item.
type ItemRecord struct {
	ID          string     `json:"id"`
	Kind        ResultType `json:"kind"`
	RoadmapID   string     `json:"roadmapId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
}
