package model

import "time"

// JobState はスクレイプジョブの状態を表す。
type JobState string

const (
	JobStateScheduled    JobState = "scheduled"
	JobStateRunning      JobState = "running"
	JobStateCompleted    JobState = "completed"
	JobStateRetrying     JobState = "retrying"
	JobStateDeadLettered JobState = "dead_lettered"
)

// IsTerminal は終端状態かどうかを返す。
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateDeadLettered
}

// ScrapeJob はキューに積まれる1回分のスクレイプ試行を表す。
// Attemptは1始まり。完了またはデッドレター化でキューから除かれる。
type ScrapeJob struct {
	ID          string
	Source      string
	City        string
	MaxPages    int
	Attempt     int
	State       JobState
	LastError   string
	ScheduledAt time.Time
}

// JobResult はスクレイプジョブの実行結果を表す。
type JobResult struct {
	Found int
	Saved int
}
