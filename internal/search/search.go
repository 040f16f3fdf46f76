package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	MatterID   string     `json:"matterId"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterMatterID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	MatterID string `json:"matterId"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	DocumentID string `json:"documentId"`
	MatterID   string `json:"matterId"`
}
