package state

import "time"

// RunSummary is the history-listing view of one recorded run.
type RunSummary struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Hostname   string    `json:"hostname"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	ExitCode   int       `json:"exit_code"`
	ItemCount  int       `json:"item_count"`
}

// BaselineInfo describes a stored baseline without its item payload.
type BaselineInfo struct {
	Subsystem string    `json:"subsystem"`
	RunID     string    `json:"run_id"`
	SavedAt   time.Time `json:"saved_at"`
	ItemCount int       `json:"item_count"`
}
