package logging

import (
	"math"
	"strings"
)

// ProgressSampler thins out job progress records. A record is due when the
// pass label changes or the percentage enters a higher step of stepPercent.
// It is not safe for concurrent use; callers hold their own lock.
type ProgressSampler struct {
	stepPercent float64
	pass        string
	step        int
}

func NewProgressSampler(stepPercent float64) *ProgressSampler {
	if stepPercent <= 0 {
		stepPercent = 10
	}
	return &ProgressSampler{stepPercent: stepPercent, step: -1}
}

// ShouldLog reports whether this observation is due. Negative percentages
// mean unknown progress and only count towards pass changes. A nil sampler
// logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, pass string) bool {
	if s == nil {
		return true
	}
	due := false
	if pass = strings.TrimSpace(pass); pass != "" && pass != s.pass {
		s.pass, s.step = pass, -1
		due = true
	}
	if percent < 0 {
		return due
	}
	step := int(math.Min(percent, 100) / s.stepPercent)
	if step > s.step {
		s.step = step
		due = true
	}
	return due
}

func (s *ProgressSampler) Reset() {
	if s != nil {
		s.pass, s.step = "", -1
	}
}
