package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Step is the caller-visible position of a verification request in its
// lifecycle. Steps only move forward; failed is reachable from any
// non-terminal step.
type Step string

const (
	StepReceived        Step = "received"
	StepProcessing      Step = "processing"
	StepAntiGreylisting Step = "antiGreyListing"
	StepComplete        Step = "complete"
	StepFailed          Step = "failed"
)

var stepOrder = map[Step]int{
	StepReceived:        0,
	StepProcessing:      1,
	StepAntiGreylisting: 2,
	StepComplete:        3,
}

func (s Step) Terminal() bool {
	return s == StepComplete || s == StepFailed
}

func (s Step) canAdvanceTo(next Step) bool {
	if s.Terminal() {
		return false
	}
	if next == StepFailed {
		return true
	}
	cur, ok := stepOrder[s]
	if !ok {
		return false
	}
	nxt, ok := stepOrder[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Progress tracks one request's step under a lock so concurrent probe
// completions cannot move it backwards or mutate a terminal state. The
// processed counter is separate so probe goroutines can bump it without
// contending on the step lock.
type Progress struct {
	mu     sync.Mutex
	step   Step
	reason string

	processed atomic.Int64
}

func NewProgress() *Progress {
	return &Progress{step: StepReceived}
}

func (p *Progress) Step() Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step
}

// Processed reports how many emails have reached a final status so far.
func (p *Progress) Processed() int {
	return int(p.processed.Load())
}

func (p *Progress) addProcessed(n int) {
	p.processed.Add(int64(n))
}

func (p *Progress) setProcessed(n int) {
	p.processed.Store(int64(n))
}

// FailureReason is only meaningful once the step is failed.
func (p *Progress) FailureReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

func (p *Progress) Advance(next Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.step.canAdvanceTo(next) {
		return fmt.Errorf("invalid progress transition %s -> %s", p.step, next)
	}
	p.step = next
	return nil
}

// Fail moves to the terminal failed state with a caller-visible reason.
// Failing an already-terminal request is an error.
func (p *Progress) Fail(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.step.Terminal() {
		return fmt.Errorf("request already terminal in step %s", p.step)
	}
	p.step = StepFailed
	p.reason = reason
	return nil
}
