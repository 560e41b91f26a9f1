package dispatch

import "testing"

func TestProgressForwardOnly(t *testing.T) {
	p := NewProgress()
	if p.Step() != StepReceived {
		t.Fatalf("initial step = %q, want received", p.Step())
	}

	if err := p.Advance(StepProcessing); err != nil {
		t.Fatalf("received -> processing: %v", err)
	}
	if err := p.Advance(StepReceived); err == nil {
		t.Error("expected error moving backwards to received")
	}
	if err := p.Advance(StepAntiGreylisting); err != nil {
		t.Fatalf("processing -> antiGreyListing: %v", err)
	}
	if err := p.Advance(StepComplete); err != nil {
		t.Fatalf("antiGreyListing -> complete: %v", err)
	}
}

func TestProgressSkipsAllowed(t *testing.T) {
	p := NewProgress()
	if err := p.Advance(StepProcessing); err != nil {
		t.Fatal(err)
	}
	// A request with no greylisted results goes straight to complete.
	if err := p.Advance(StepComplete); err != nil {
		t.Errorf("processing -> complete should be allowed: %v", err)
	}
}

func TestProgressFailFromAnyNonTerminal(t *testing.T) {
	for _, start := range []Step{StepReceived, StepProcessing, StepAntiGreylisting} {
		p := &Progress{step: start}
		if err := p.Fail("upstream unavailable"); err != nil {
			t.Errorf("Fail from %q: %v", start, err)
		}
		if p.Step() != StepFailed {
			t.Errorf("step after Fail = %q, want failed", p.Step())
		}
		if p.FailureReason() != "upstream unavailable" {
			t.Errorf("reason = %q", p.FailureReason())
		}
	}
}

func TestProgressTerminalImmutable(t *testing.T) {
	p := &Progress{step: StepComplete}
	if err := p.Advance(StepProcessing); err == nil {
		t.Error("complete should not advance")
	}
	if err := p.Fail("late failure"); err == nil {
		t.Error("complete should not fail")
	}

	p = &Progress{step: StepFailed}
	if err := p.Advance(StepComplete); err == nil {
		t.Error("failed should not advance")
	}
}
