package elasticsearch

import (
	"encoding/json"
)

// SearchResponse represents the relevant parts of an Elasticsearch search response.
type SearchResponse struct {
	Took         int            `json:"took"`
	TimedOut     bool           `json:"timed_out"`
	Shards       ShardsInfo     `json:"_shards"`
	Hits         HitsInfo       `json:"hits"`
	Aggregations map[string]any `json:"aggregations"`

	// Raw is the whole decoded response.
	Raw map[string]any `json:"-"`
}

// ShardsInfo provides information about the shards involved in the search.
type ShardsInfo struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// HitsInfo provides basic information about the search hits.
type HitsInfo struct {
	Total    TotalHits        `json:"total"`
	MaxScore float64          `json:"max_score"`
	Hits     []map[string]any `json:"hits"`
}

// TotalHits holds the total number of documents matching the query.
type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

func decodeSearchResponse(raw []byte) (*SearchResponse, error) {
	var resp SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &resp.Raw); err != nil {
		return nil, err
	}
	return &resp, nil
}
