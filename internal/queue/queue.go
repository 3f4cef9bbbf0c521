package queue

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

const DateFormat = "2006-01-02"

// Entry is one queued entity for one run date.
type Entry struct {
	EntityKey    string     `json:"entityKey"`
	RunDate      time.Time  `json:"runDate"`
	BatchNumber  int        `json:"batchNumber"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// SuccessRate is the percentage of attempted entries that completed.
func (s Stats) SuccessRate() float64 {
	attempted := s.Completed + s.Failed
	if attempted == 0 {
		return 0
	}
	return float64(s.Completed) / float64(attempted) * 100
}

// Add increments the counter for status.
func (s *Stats) Add(status Status, n int64) {
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusProcessing:
		s.Processing += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	}
	s.Total += n
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
