package learning

import (
	"sync"
	"testing"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/probe"
)

func fallbackClassification(org string) classify.Classification {
	return classify.Classification{
		Organization:      org,
		ProcessingProfile: "unknown_mx_conservative",
		Confidence:        classify.ConfidenceLow,
		Source:            classify.SourceFallback,
	}
}

func TestGetImprovedClassificationNeedsThreeAttempts(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("acmewidgets.io")

	if got := s.GetImprovedClassification("acmewidgets.io"); got != nil {
		t.Fatalf("expected nil for unseen domain, got %+v", got)
	}

	s.RecordOutcome("acmewidgets.io", used, &probe.Outcome{Deliverable: true})
	s.RecordOutcome("acmewidgets.io", used, &probe.Outcome{Deliverable: true})

	if got := s.GetImprovedClassification("acmewidgets.io"); got != nil {
		t.Fatalf("expected nil below 3 attempts, got %+v", got)
	}
}

func TestGetImprovedClassificationUpgrade(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("acmewidgets.io")

	for i := 0; i < 4; i++ {
		s.RecordOutcome("acmewidgets.io", used, &probe.Outcome{Deliverable: true})
	}

	got := s.GetImprovedClassification("acmewidgets.io")
	if got == nil {
		t.Fatal("expected an upgrade override, got nil")
	}
	if got.Organization != "learned_acmewidgets.io" {
		t.Errorf("Organization = %q, want learned_acmewidgets.io", got.Organization)
	}
	if got.ProcessingProfile != "business_smtp_standard" {
		t.Errorf("ProcessingProfile = %q, want business_smtp_standard", got.ProcessingProfile)
	}
	if got.Source != classify.SourceAdaptiveLearning {
		t.Errorf("Source = %q, want adaptive_learning", got.Source)
	}
	if got.Confidence != classify.ConfidenceHigh {
		t.Errorf("Confidence = %q, want high", got.Confidence)
	}
}

func TestGetImprovedClassificationDowngrade(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("flaky.example")

	// 1 success in 5 attempts: success rate 0.2.
	s.RecordOutcome("flaky.example", used, &probe.Outcome{Deliverable: true})
	for i := 0; i < 4; i++ {
		s.RecordOutcome("flaky.example", used, &probe.Outcome{Error: true})
	}

	got := s.GetImprovedClassification("flaky.example")
	if got == nil {
		t.Fatal("expected a downgrade override, got nil")
	}
	if got.ProcessingProfile != "unknown_mx_ultra_conservative" {
		t.Errorf("ProcessingProfile = %q, want unknown_mx_ultra_conservative", got.ProcessingProfile)
	}
}

func TestGetImprovedClassificationMixedEvidence(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("soso.example")

	// 0.75 success, 0.25 greylist: neither threshold crossed.
	for i := 0; i < 3; i++ {
		s.RecordOutcome("soso.example", used, &probe.Outcome{Deliverable: true})
	}
	s.RecordOutcome("soso.example", used, &probe.Outcome{Greylisted: true})

	if got := s.GetImprovedClassification("soso.example"); got != nil {
		t.Fatalf("expected nil override for mixed evidence, got %+v", got)
	}
}

func TestRecordOutcomeCounters(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("counts.example")

	s.RecordOutcome("counts.example", used, &probe.Outcome{Deliverable: true})
	s.RecordOutcome("counts.example", used, &probe.Outcome{Error: true})
	s.RecordOutcome("counts.example", used, &probe.Outcome{Greylisted: true, RequiresRecheck: true})
	s.RecordOutcome("counts.example", used, &probe.Outcome{Disabled: true})
	s.RecordOutcome("counts.example", used, nil) // no signal
	s.RecordOutcome("", used, &probe.Outcome{Deliverable: true})

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(snap))
	}
	st := snap[0]
	if st.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", st.Attempts)
	}
	if st.Successes != 1 || st.Failures != 1 || st.GreylistCount != 1 || st.BlacklistCount != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 1/1/1/1",
			st.Successes, st.Failures, st.GreylistCount, st.BlacklistCount)
	}
	if st.LastUpdated.IsZero() {
		t.Error("LastUpdated not set")
	}
}

func TestTimeoutsAreNoSignalUntilRepeated(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("slow.example")
	timeout := &probe.Outcome{Error: true, Timeout: true}

	for i := 0; i < 3; i++ {
		s.RecordOutcome("slow.example", used, timeout)
	}
	if st := s.Snapshot()[0]; st.Attempts != 0 || st.Failures != 0 {
		t.Fatalf("early timeouts counted: attempts=%d failures=%d", st.Attempts, st.Failures)
	}

	s.RecordOutcome("slow.example", used, timeout)
	if st := s.Snapshot()[0]; st.Failures != 1 {
		t.Errorf("sustained timeouts should count as failures, got %d", st.Failures)
	}

	// A real outcome resets the streak.
	s.RecordOutcome("slow.example", used, &probe.Outcome{Deliverable: true})
	s.RecordOutcome("slow.example", used, timeout)
	if st := s.Snapshot()[0]; st.Failures != 1 {
		t.Errorf("streak should reset after a non-timeout outcome, failures = %d", st.Failures)
	}
}

type capturingSink struct {
	mu          sync.Mutex
	suggestions []Suggestion
}

func (c *capturingSink) Suggest(s Suggestion) {
	c.mu.Lock()
	c.suggestions = append(c.suggestions, s)
	c.mu.Unlock()
}

func (c *capturingSink) byDirection(dir string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.suggestions {
		if s.Direction == dir {
			n++
		}
	}
	return n
}

func TestUpgradeSuggestionEmitted(t *testing.T) {
	sink := &capturingSink{}
	s := NewStore(sink)
	used := fallbackClassification("steady.example")

	// 11 clean successes: above the 10-attempt suggestion threshold.
	for i := 0; i < 11; i++ {
		s.RecordOutcome("steady.example", used, &probe.Outcome{Deliverable: true})
	}

	if sink.byDirection("upgrade") == 0 {
		t.Error("expected at least one upgrade suggestion")
	}
	if sink.byDirection("downgrade") != 0 {
		t.Error("unexpected downgrade suggestion")
	}
}

func TestDowngradeSuggestionEmitted(t *testing.T) {
	sink := &capturingSink{}
	s := NewStore(sink)
	used := fallbackClassification("hostile.example")

	for i := 0; i < 6; i++ {
		s.RecordOutcome("hostile.example", used, &probe.Outcome{Greylisted: true})
	}

	if sink.byDirection("downgrade") == 0 {
		t.Error("expected a downgrade suggestion after heavy greylisting")
	}
}

func TestConcurrentRecordOutcome(t *testing.T) {
	s := NewStore(nil)
	used := fallbackClassification("busy.example")

	var wg sync.WaitGroup
	const workers = 16
	const perWorker = 50
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.RecordOutcome("busy.example", used, &probe.Outcome{Deliverable: true})
			}
		}()
	}
	wg.Wait()

	st := s.Snapshot()[0]
	if st.Attempts != workers*perWorker {
		t.Errorf("Attempts = %d, want %d", st.Attempts, workers*perWorker)
	}
	if st.Successes != workers*perWorker {
		t.Errorf("Successes = %d, want %d", st.Successes, workers*perWorker)
	}
}
