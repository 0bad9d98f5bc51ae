package dispatch

import (
	"math"
	"time"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// Per-class retry ceilings. A task whose retry count reaches its class
// ceiling is abandoned.
var retryCeilings = map[engine.ErrorClass]int{
	engine.ErrClassNetwork:   3,
	engine.ErrClassDenied:    2,
	engine.ErrClassNotFound:  1,
	engine.ErrClassServer:    3,
	engine.ErrClassCaptcha:   2,
	engine.ErrClassParsing:   2,
	engine.ErrClassUnknown:   2,
	engine.ErrClassNoContent: 1,
	engine.ErrClassTimeout:   3,
	engine.ErrClassSoft:      1,
}

const defaultRetryCeiling = 2

// Per-class backoff multipliers over the base delay.
var delayFactors = map[engine.ErrorClass]float64{
	engine.ErrClassNetwork:   1.0,
	engine.ErrClassDenied:    2.5,
	engine.ErrClassNotFound:  0.5,
	engine.ErrClassServer:    1.5,
	engine.ErrClassCaptcha:   3.0,
	engine.ErrClassParsing:   1.0,
	engine.ErrClassUnknown:   1.5,
	engine.ErrClassNoContent: 0.8,
	engine.ErrClassTimeout:   1.2,
	engine.ErrClassSoft:      1.0,
}

const (
	baseRetryDelay = 5 * time.Second
	minRetryDelay  = time.Second
	maxRetryDelay  = 5 * time.Minute

	// Decay base for retry priorities; the exponent is the new retry count,
	// so repeated failures compound.
	priorityDecay = 0.85
)

// shouldRetry reports whether a task that failed with the class has retries
// left. The count checked is the number of attempts already made.
func shouldRetry(class engine.ErrorClass, retryCount int) bool {
	ceiling, ok := retryCeilings[class]
	if !ok {
		ceiling = defaultRetryCeiling
	}
	return retryCount < ceiling
}

// retryDelay computes the class-scaled exponential backoff with jitter.
// jitterDraw is a [0,1) random sample.
func retryDelay(class engine.ErrorClass, retryCount int, jitterDraw float64) time.Duration {
	factor, ok := delayFactors[class]
	if !ok {
		factor = 1.0
	}
	jitter := 0.8 + 0.4*jitterDraw
	delay := float64(baseRetryDelay) * factor * math.Pow(2, float64(retryCount)) * jitter

	d := time.Duration(delay)
	if d < minRetryDelay {
		d = minRetryDelay
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// prepareRetry mutates a copy of the task with class-specific hints for the
// next attempt and returns it with the priority delta for requeueing. The
// retry keeps priority x 0.85^retry_count, so a task on its second retry
// lands at 0.85^2 of its current priority, not a flat 85%.
func prepareRetry(task engine.CrawlTask, class engine.ErrorClass) (engine.CrawlTask, float64) {
	next := task.Clone()
	decayed := task.Priority * math.Pow(priorityDecay, float64(task.RetryCount+1))
	delta := decayed - task.Priority

	switch class {
	case engine.ErrClassDenied, engine.ErrClassCaptcha:
		next.Protection = engine.ProtectionHigh
		next.MinDelay = time.Duration(5+2*task.RetryCount) * time.Second
		next.ForceNewProxy = true
	case engine.ErrClassNetwork, engine.ErrClassServer, engine.ErrClassTimeout:
		next.TimeoutFactor = 1.5
	}
	return next, delta
}
