package model

import "time"

// Analytics is one aggregate over a set of root spans.
type Analytics struct {
	Count    int64   `json:"count"`
	Duration float64 `json:"duration"` // milliseconds
	Costs    float64 `json:"costs"`
	Tokens   float64 `json:"tokens"`
}

// Add returns the element-wise sum of a and b.
func (a Analytics) Add(b Analytics) Analytics {
	return Analytics{
		Count:    a.Count + b.Count,
		Duration: a.Duration + b.Duration,
		Costs:    a.Costs + b.Costs,
		Tokens:   a.Tokens + b.Tokens,
	}
}

// AnalyticsRow is one pre-aggregated point of a time series.
type AnalyticsRow struct {
	Timestamp time.Time `json:"timestamp"`
	Analytics
}

// Bucket is one time window of the merged total and error series.
type Bucket struct {
	Timestamp time.Time `json:"timestamp"`
	Interval  int       `json:"interval"` // minutes
	Total     Analytics `json:"total"`
	Errors    Analytics `json:"errors"`
}
