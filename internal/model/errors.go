package model

import (
	"errors"
	"fmt"
)

// ErrorKind はパイプライン内のエラー分類を表す。
// 分類ごとに扱いが異なる（リトライ、スキップ、ログのみ等）。
type ErrorKind string

// 定義済みエラー分類
const (
	ErrKindTransientNetwork ErrorKind = "TRANSIENT_NETWORK"
	ErrKindParse            ErrorKind = "PARSE"
	ErrKindPersistence      ErrorKind = "PERSISTENCE"
	ErrKindMatchTrigger     ErrorKind = "MATCH_TRIGGER"
	ErrKindChannelDelivery  ErrorKind = "CHANNEL_DELIVERY"
	ErrKindRateLimited      ErrorKind = "RATE_LIMITED"
	ErrKindJobExhausted     ErrorKind = "JOB_EXHAUSTED"
)

// PipelineError は分類付きのエラーを表す。
type PipelineError struct {
	Kind ErrorKind
	Op   string // 発生箇所（例: "pararius.fetch"）
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is は同じKindのPipelineErrorと一致する。
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf はエラーチェーン中のPipelineErrorの分類を返す。見つからない場合は空文字列。
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// errors.Is の比較対象として使用する分類ごとの番兵値。
var (
	ErrTransientNetwork = &PipelineError{Kind: ErrKindTransientNetwork}
	ErrParse            = &PipelineError{Kind: ErrKindParse}
	ErrPersistence      = &PipelineError{Kind: ErrKindPersistence}
	ErrRateLimited      = &PipelineError{Kind: ErrKindRateLimited}
	ErrJobExhausted     = &PipelineError{Kind: ErrKindJobExhausted}
)

// NewTransientNetworkError はナビゲーション失敗やタイムアウトを表すエラーを生成する。
func NewTransientNetworkError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindTransientNetwork, Op: op, Err: err}
}

// NewParseError はカード1件の解析失敗を表すエラーを生成する。
func NewParseError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindParse, Op: op, Err: err}
}

// NewPersistenceError は永続化の失敗を表すエラーを生成する。
func NewPersistenceError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindPersistence, Op: op, Err: err}
}

// NewMatchTriggerError は非同期マッチングの失敗を表すエラーを生成する。
func NewMatchTriggerError(propertyID string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindMatchTrigger, Op: "match " + propertyID, Err: err}
}

// NewChannelDeliveryError はチャネル送信の失敗を表すエラーを生成する。
func NewChannelDeliveryError(channel Channel, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindChannelDelivery, Op: string(channel), Err: err}
}

// NewJobExhaustedError はリトライ上限に達したジョブを表すエラーを生成する。
func NewJobExhaustedError(job *ScrapeJob, err error) *PipelineError {
	return &PipelineError{
		Kind: ErrKindJobExhausted,
		Op:   fmt.Sprintf("%s/%s attempt=%d", job.Source, job.City, job.Attempt),
		Err:  err,
	}
}
