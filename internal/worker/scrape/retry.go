package scrape

import (
	"fmt"
	"time"

	"github.com/hitoshi/rentwatch/internal/model"
)

const (
	// DefaultMaxAttempts はジョブ1回分の最大試行回数。
	DefaultMaxAttempts = 3
	// DefaultBaseDelay はリトライの初回遅延。
	DefaultBaseDelay = 30 * time.Second
	// maxBackoff はリトライ遅延の上限。
	maxBackoff = 30 * time.Minute
)

// transitions はジョブ状態の許可された遷移。
var transitions = map[model.JobState][]model.JobState{
	model.JobStateScheduled: {model.JobStateRunning},
	model.JobStateRunning:   {model.JobStateCompleted, model.JobStateRetrying, model.JobStateDeadLettered},
	model.JobStateRetrying:  {model.JobStateRunning},
}

// CanTransition はfromからtoへの遷移が許可されているかを返す。
func CanTransition(from, to model.JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(job *model.ScrapeJob, to model.JobState) error {
	if !CanTransition(job.State, to) {
		return fmt.Errorf("不正な状態遷移です: %s -> %s (job=%s)", job.State, to, job.ID)
	}
	job.State = to
	return nil
}

// CalculateBackoff は失敗した試行回数（1始まり）に対するリトライ遅延を返す。
// 初回はbase、以降2倍ずつ増加し、最大30分。
func CalculateBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStart はジョブを実行中にする。
func ApplyStart(job *model.ScrapeJob) error {
	return transition(job, model.JobStateRunning)
}

// ApplySuccess はジョブを完了にしてエラーをクリアする。
func ApplySuccess(job *model.ScrapeJob) error {
	if err := transition(job, model.JobStateCompleted); err != nil {
		return err
	}
	job.LastError = ""
	return nil
}

// ApplyFailure は失敗を記録し、試行回数が残っていればリトライ待ちに、
// 上限に達していればデッドレターにする。リトライする場合はtrueを返す。
func ApplyFailure(job *model.ScrapeJob, cause error, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	job.LastError = cause.Error()

	if job.Attempt >= maxAttempts {
		return false, transition(job, model.JobStateDeadLettered)
	}
	if err := transition(job, model.JobStateRetrying); err != nil {
		return false, err
	}
	job.Attempt++
	return true, nil
}
