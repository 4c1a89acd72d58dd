package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether moving from s to next is a forward transition.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// CrawlTask is a point-in-time view of a crawl run's progress.
type CrawlTask struct {
	ID               string     `json:"task_id"`
	Status           TaskStatus `json:"status"`
	SearchTerms      []string   `json:"search_terms"`
	MinPerOrigin     int        `json:"min_per_origin"`
	CurrentOrigin    string     `json:"current_origin,omitempty"`
	CompletedOrigins int        `json:"completed_origins"`
	TotalOrigins     int        `json:"total_origins"`
	ProductsFound    int        `json:"products_found"`
	Errors           []string   `json:"errors"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Queries expands the task's terms into per-term search queries.
func (t CrawlTask) Queries() []SearchQuery {
	queries := make([]SearchQuery, 0, len(t.SearchTerms))
	for _, term := range t.SearchTerms {
		queries = append(queries, SearchQuery{Term: term, MinAccepted: t.MinPerOrigin})
	}
	return queries
}
