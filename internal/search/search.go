// Package search indexes documents for full-text search. Meilisearch is
// the primary backend with a Postgres fallback, so search keeps working
// when Meilisearch is down.
package search

// DocumentRecord is the indexed shape of a document. AllowedUserIDs holds
// the author plus every collaborator so visibility filtering happens inside
// the search backend instead of post-filtering results.
type DocumentRecord struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Status         string   `json:"status"`
	Privacy        string   `json:"privacy"`
	Tags           []string `json:"tags"`
	AuthorID       string   `json:"authorId"`
	AllowedUserIDs []string `json:"allowedUserIds"`
	UpdatedAt      string   `json:"updatedAt"`
}

// Query is a search request scoped to what the viewer may see.
type Query struct {
	Text     string
	ViewerID string
	Limit    int
}

// Result is one hit.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
	Privacy string `json:"privacy"`
}

// Response wraps search results.
type Response struct {
	Results []Result `json:"results"`
	Total   int64    `json:"total"`
	Query   string   `json:"query"`
}
