package score

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	heuristicWeight = 0.7
	aiWeight        = 0.3
)

// Score is a page's priority. AI is the judge's rating when one was obtained.
type Score struct {
	Value float64
	AI    *float64
}

// Scorer combines the heuristic with an optional Judge.
type Scorer struct {
	judge   Judge
	timeout time.Duration
	log     *logrus.Entry
}

// NewScorer creates a Scorer. judge may be nil. Each judge call is bounded by
// timeout; a rating that does not arrive in time counts as absent.
func NewScorer(judge Judge, timeout time.Duration, log *logrus.Entry) *Scorer {
	return &Scorer{judge: judge, timeout: timeout, log: log}
}

// HasJudge reports whether AI scoring is active
func (s *Scorer) HasJudge() bool { return s.judge != nil }

// Score rates a fetched page. Without a usable AI rating the heuristic is the
// score; otherwise the two are blended 70/30.
func (s *Scorer) Score(ctx context.Context, html, pageURL string) Score {
	h := Heuristic(html, pageURL)
	if s.judge == nil {
		return Score{Value: h}
	}
	judgeCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		judgeCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ai, ok := s.judge.Judge(judgeCtx, html)
	if !ok {
		return Score{Value: h}
	}
	s.log.WithFields(logrus.Fields{"url": pageURL, "heuristic": h, "ai": ai}).Trace("Blended page score")
	return Score{Value: heuristicWeight*h + aiWeight*ai, AI: &ai}
}
