package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Pacer はソース単位のリクエスト間隔を制御する。
// 同じソースのスクレイパーインスタンス間で共有し、並行ジョブ全体でレートを守る。
type Pacer struct {
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	randFn   func() float64
}

// NewPacer はPacerを生成する。
// rpsが0以下の場合はレート制限なし。maxDelayがminDelay未満の場合はminDelayに揃える。
func NewPacer(rps float64, minDelay, maxDelay time.Duration) *Pacer {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{
		limiter:  rate.NewLimiter(limit, 1),
		minDelay: minDelay,
		maxDelay: maxDelay,
		randFn:   rand.Float64,
	}
}

// WaitTurn はレートリミッタのトークンを待つ。
func (p *Pacer) WaitTurn(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Jitter は[minDelay, maxDelay]の範囲でランダムに待機する。
func (p *Pacer) Jitter(ctx context.Context) error {
	d := RandomDelay(p.minDelay, p.maxDelay, p.randFn())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RandomDelay はr∈[0,1)に対応する[lo, hi]内の待機時間を返す。
func RandomDelay(lo, hi time.Duration, r float64) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r*float64(hi-lo))
}
