// Package search provides the agent directory search: Meilisearch when
// available, Postgres full-text search as the fallback.
package search

// Result is a single agent hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Agency  string `json:"agency"`
	Lines   string `json:"lines"`
	City    string `json:"city"`
	State   string `json:"state"`
	Snippet string `json:"snippet"`
}

// Query describes an agent directory search request.
type Query struct {
	Text   string
	State  string // two-letter filter, empty = all
	City   string
	Line   string // insurance line filter, matches the lines field
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute an agent directory search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// AgentRecord is the data we index per agent.
type AgentRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Agency string `json:"agency"`
	Lines  string `json:"lines"`
	City   string `json:"city"`
	State  string `json:"state"`
	Bio    string `json:"bio"`
}
