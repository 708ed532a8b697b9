package storage

import "time"

// Request record statuses
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
)

// DateLayout is the calendar-date format used for request windows
const DateLayout = "2006-01-02"

// QueryKey identifies a query across runs: the exact AND/OR/NOT term strings
type QueryKey struct {
	And string
	Or  string
	Not string
}

// SourceConfig represents a news aggregator the requester talks to
type SourceConfig struct {
	ID      int64
	Name    string
	APIKey  string
	BaseURL string
}

// RequestRecord is one executed request against a source over [Start, End)
type RequestRecord struct {
	ID             int64
	SourceID       int64
	Key            QueryKey
	Start          time.Time
	End            time.Time
	Status         string
	Received       int
	Available      int
	Saved          int
	URL            string
	FromAutomation bool
	CreatedAt      time.Time
}

// Article is a single result returned by the provider, unique by URL
type Article struct {
	ID              int64
	URL             string
	PublicationName string
	Title           string
	Author          string
	Description     string
	URLToImage      string
	PublishedAt     string
	Content         string
	RequestID       int64
	SourceID        int64
}

// Domain inclusion modes for request/domain links
const (
	DomainIncluded = "included"
	DomainExcluded = "excluded"
)

// RunSummary tracks run statistics for export on exit
type RunSummary struct {
	RunID              string    `json:"run_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	QueriesLoaded      int       `json:"queries_loaded"`
	QueriesScheduled   int       `json:"queries_scheduled"`
	Steps              int       `json:"steps"`
	RequestsIssued     int       `json:"requests_issued"`
	NoOpSteps          int       `json:"noop_steps"`
	TransportErrors    int       `json:"transport_errors"`
	MalformedResponses int       `json:"malformed_responses"`
	ArticlesReceived   int       `json:"articles_received"`
	ArticlesSaved      int       `json:"articles_saved"`
	TotalFetchTimeMs   int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs     int64     `json:"avg_fetch_time_ms"`
	TerminationReason  string    `json:"termination_reason"`
}
