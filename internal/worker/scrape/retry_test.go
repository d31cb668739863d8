package scrape

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/rentwatch/internal/model"
)

func TestCalculateBackoff_Doubles(t *testing.T) {
	base := 10 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(base, tt.attempt); got != tt.want {
			t.Errorf("attempt=%d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoff_Cap(t *testing.T) {
	if got := CalculateBackoff(time.Minute, 20); got != maxBackoff {
		t.Errorf("上限 %v に制限されるべき, got %v", maxBackoff, got)
	}
}

func TestCalculateBackoff_DefaultBase(t *testing.T) {
	if got := CalculateBackoff(0, 1); got != DefaultBaseDelay {
		t.Errorf("baseが0の場合は既定値を使用すべき, got %v", got)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.JobState
		want     bool
	}{
		{model.JobStateScheduled, model.JobStateRunning, true},
		{model.JobStateRunning, model.JobStateCompleted, true},
		{model.JobStateRunning, model.JobStateRetrying, true},
		{model.JobStateRunning, model.JobStateDeadLettered, true},
		{model.JobStateRetrying, model.JobStateRunning, true},
		{model.JobStateScheduled, model.JobStateCompleted, false},
		{model.JobStateCompleted, model.JobStateRunning, false},
		{model.JobStateDeadLettered, model.JobStateRetrying, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestApplyStart_InvalidFromCompleted(t *testing.T) {
	job := &model.ScrapeJob{ID: "j1", State: model.JobStateCompleted}
	if err := ApplyStart(job); err == nil {
		t.Fatal("完了済みジョブは開始できないべき")
	}
	if job.State != model.JobStateCompleted {
		t.Errorf("不正な遷移で状態が変わってはいけない, got %s", job.State)
	}
}

func TestApplySuccess_ClearsError(t *testing.T) {
	job := &model.ScrapeJob{State: model.JobStateRunning, LastError: "timeout"}
	if err := ApplySuccess(job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.State != model.JobStateCompleted || job.LastError != "" {
		t.Errorf("完了状態でエラーがクリアされるべき, got state=%s error=%q", job.State, job.LastError)
	}
}

func TestApplyFailure_RetryThenDeadLetter(t *testing.T) {
	job := &model.ScrapeJob{State: model.JobStateRunning, Attempt: 1}
	cause := errors.New("navigation timeout")

	retry, err := ApplyFailure(job, cause, 3)
	if err != nil || !retry {
		t.Fatalf("1回目はリトライすべき: retry=%v err=%v", retry, err)
	}
	if job.State != model.JobStateRetrying || job.Attempt != 2 {
		t.Errorf("retrying/attempt=2 になるべき, got %s/%d", job.State, job.Attempt)
	}
	if job.LastError != "navigation timeout" {
		t.Errorf("LastErrorが記録されるべき, got %q", job.LastError)
	}

	_ = ApplyStart(job)
	retry, _ = ApplyFailure(job, cause, 3)
	if !retry || job.Attempt != 3 {
		t.Fatalf("2回目もリトライすべき, got retry=%v attempt=%d", retry, job.Attempt)
	}

	_ = ApplyStart(job)
	retry, err = ApplyFailure(job, cause, 3)
	if err != nil || retry {
		t.Fatalf("3回目はデッドレターにすべき: retry=%v err=%v", retry, err)
	}
	if job.State != model.JobStateDeadLettered {
		t.Errorf("dead_lettered になるべき, got %s", job.State)
	}
	if !job.State.IsTerminal() {
		t.Error("dead_lettered は終端状態であるべき")
	}
}
