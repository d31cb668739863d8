// Package scrape はスクレイプジョブの定期実行、リトライ、デッドレター処理を提供する。
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/model"
)

const (
	// DefaultConcurrency は同時に実行するジョブの既定数。
	DefaultConcurrency = 2
	// DefaultQueueSize はジョブキューの既定容量。
	DefaultQueueSize = 64
)

// JobSpec は定期実行するスクレイプ対象。
type JobSpec struct {
	Source   string
	City     string
	MaxPages int
	Interval time.Duration
}

func (s JobSpec) key() string {
	return s.Source + "/" + s.City
}

// Config はスケジューラの設定。
type Config struct {
	Concurrency int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
}

// DeadLetterHook はリトライ上限に達したジョブを受け取る。
type DeadLetterHook func(job *model.ScrapeJob, err error)

// Scheduler はcronでジョブを投入し、固定数のワーカーで実行する。
// 同じ(source, city)のジョブは同時に1つだけキューまたは実行中に存在する。
type Scheduler struct {
	runner       JobRunner
	cfg          Config
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	onDeadLetter DeadLetterHook

	cron  *cron.Cron
	specs []JobSpec
	queue chan *model.ScrapeJob
	quit  chan struct{}
	wg    sync.WaitGroup

	jobCtx     context.Context
	cancelJobs context.CancelFunc

	mu      sync.Mutex
	active  map[string]bool
	timers  map[*time.Timer]string
	stopped bool
}

// NewScheduler はSchedulerを生成する。0以下の設定値には既定値を使用する。
func NewScheduler(runner JobRunner, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &Scheduler{
		runner:  runner,
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
		cron:    cron.New(),
		queue:   make(chan *model.ScrapeJob, cfg.QueueSize),
		quit:    make(chan struct{}),
		active:  make(map[string]bool),
		timers:  make(map[*time.Timer]string),
	}
}

// OnDeadLetter はデッドレター時に呼ばれるフックを設定する。Start前に呼ぶこと。
func (s *Scheduler) OnDeadLetter(hook DeadLetterHook) {
	s.onDeadLetter = hook
}

// Schedule はジョブを定期実行に登録する。Start時にも1回即時実行される。
func (s *Scheduler) Schedule(spec JobSpec) error {
	if spec.Source == "" || spec.City == "" {
		return errors.New("sourceとcityは必須です")
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("実行間隔が不正です: %s", spec.Interval)
	}

	if _, err := s.cron.AddFunc("@every "+spec.Interval.String(), func() {
		s.submit(spec)
	}); err != nil {
		return fmt.Errorf("ジョブの登録に失敗しました: %w", err)
	}
	s.specs = append(s.specs, spec)
	return nil
}

// Start はワーカーとcronを開始し、登録済みジョブを即時投入する。
// ctxがキャンセルされると実行中のスクレイプも中断される。
func (s *Scheduler) Start(ctx context.Context) {
	s.jobCtx, s.cancelJobs = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.cron.Start()

	s.logger.Info("スケジューラを開始しました",
		slog.Int("jobs", len(s.specs)),
		slog.Int("concurrency", s.cfg.Concurrency),
	)

	for _, spec := range s.specs {
		s.submit(spec)
	}
}

// Stop は新規投入とリトライ待ちを止め、実行中のジョブの完了を待つ。
// ctxの期限までに終わらない場合は実行中のジョブをキャンセルする。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]string)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if s.cancelJobs == nil {
		// Start前
		return nil
	}
	close(s.quit)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelJobs()
		s.logger.Info("スケジューラを停止しました")
		return nil
	case <-ctx.Done():
		s.cancelJobs()
		<-done
		return fmt.Errorf("実行中のジョブの完了を待てませんでした: %w", ctx.Err())
	}
}

// submit は新しいジョブを投入する。同じキーのジョブが処理中ならスキップする。
func (s *Scheduler) submit(spec JobSpec) {
	key := spec.key()

	s.mu.Lock()
	if s.stopped || s.active[key] {
		s.mu.Unlock()
		s.logger.Debug("処理中のためジョブをスキップしました", slog.String("job", key))
		return
	}
	s.active[key] = true
	s.mu.Unlock()

	job := &model.ScrapeJob{
		ID:          uuid.New().String(),
		Source:      spec.Source,
		City:        spec.City,
		MaxPages:    spec.MaxPages,
		Attempt:     1,
		State:       model.JobStateScheduled,
		ScheduledAt: time.Now(),
	}
	s.enqueue(job)
}

// enqueue はキューに空きがあればジョブを入れる。満杯の場合は破棄して次回の実行に任せる。
func (s *Scheduler) enqueue(job *model.ScrapeJob) {
	select {
	case s.queue <- job:
	default:
		s.logger.Warn("ジョブキューが満杯のため破棄しました",
			slog.String("source", job.Source),
			slog.String("city", job.City),
		)
		s.release(job)
	}
}

func (s *Scheduler) release(job *model.ScrapeJob) {
	s.mu.Lock()
	delete(s.active, job.Source+"/"+job.City)
	s.mu.Unlock()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.jobCtx.Done():
			return
		case job := <-s.queue:
			s.execute(job)
		}
	}
}

// execute はジョブを1回実行し、結果に応じて完了、リトライ、デッドレターのいずれかにする。
func (s *Scheduler) execute(job *model.ScrapeJob) {
	if err := ApplyStart(job); err != nil {
		s.logger.Error("ジョブを開始できません", slog.String("error", err.Error()))
		s.release(job)
		return
	}

	start := time.Now()
	result, err := s.safeRun(job)
	duration := time.Since(start)

	if err == nil {
		_ = ApplySuccess(job)
		s.release(job)
		s.metrics.RecordJobCompleted(job.Source, result.Found, result.Saved)
		s.logger.Info("スクレイプジョブが完了しました",
			slog.String("job_id", job.ID),
			slog.String("source", job.Source),
			slog.String("city", job.City),
			slog.Int("attempt", job.Attempt),
			slog.Int("found", result.Found),
			slog.Int("saved", result.Saved),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		return
	}

	failedAttempt := job.Attempt
	retry, stateErr := ApplyFailure(job, err, s.cfg.MaxAttempts)
	if stateErr != nil {
		s.logger.Error("ジョブの状態更新に失敗しました", slog.String("error", stateErr.Error()))
		s.release(job)
		return
	}

	if retry {
		delay := CalculateBackoff(s.cfg.BaseDelay, failedAttempt)
		s.metrics.RecordJobRetried(job.Source)
		s.logger.Warn("スクレイプジョブが失敗しました。リトライします",
			slog.String("job_id", job.ID),
			slog.String("source", job.Source),
			slog.String("city", job.City),
			slog.Int("attempt", failedAttempt),
			slog.Int64("retry_in_ms", delay.Milliseconds()),
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		s.scheduleRetry(job, delay)
		return
	}

	s.deadLetter(job, err)
}

func (s *Scheduler) safeRun(job *model.ScrapeJob) (result model.JobResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ジョブ実行中にpanicが発生しました: %v", rec)
		}
	}()
	return s.runner.Run(s.jobCtx, job)
}

// scheduleRetry はワーカーを占有せずに、遅延後にジョブを再投入する。
func (s *Scheduler) scheduleRetry(job *model.ScrapeJob, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		delete(s.active, job.Source+"/"+job.City)
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.timers[t]
		delete(s.timers, t)
		s.mu.Unlock()
		if pending {
			s.enqueue(job)
		}
	})
	s.timers[t] = job.ID
}

func (s *Scheduler) deadLetter(job *model.ScrapeJob, cause error) {
	s.release(job)
	exhausted := model.NewJobExhaustedError(job, cause)

	s.metrics.RecordJobDeadLettered(job.Source)
	s.logger.Error("スクレイプジョブがリトライ上限に達しました",
		slog.String("job_id", job.ID),
		slog.String("source", job.Source),
		slog.String("city", job.City),
		slog.Int("attempts", job.Attempt),
		slog.String("error", exhausted.Error()),
	)

	if s.onDeadLetter != nil {
		s.onDeadLetter(job, exhausted)
	}
}
