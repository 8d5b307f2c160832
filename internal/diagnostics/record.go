package diagnostics

import "time"

// Record is one stage outcome of one run.
type Record struct {
	ID        string
	SessionID string
	RunID     string
	ContextID string
	Stage     string
	Skipped   bool
	Reason    string
	Success   bool
	Elapsed   time.Duration
	Error     string
	At        time.Time
}

// StageSummary aggregates the records of one stage.
type StageSummary struct {
	Stage       string        `json:"stage"`
	Runs        int           `json:"runs"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	MeanElapsed time.Duration `json:"mean_elapsed"`
}
