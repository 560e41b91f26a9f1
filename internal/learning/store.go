package learning

import (
	"sync"
	"time"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/probe"
)

// Stats is the rolling performance ledger for one MX domain. Counts only
// grow; entries are never deleted so past behavior keeps informing future
// classification of the same domain.
type Stats struct {
	MXDomain       string                  `json:"mx_domain"`
	Classification classify.Classification `json:"classification"`
	Attempts       int64                   `json:"attempts"`
	Successes      int64                   `json:"successes"`
	Failures       int64                   `json:"failures"`
	GreylistCount  int64                   `json:"greylist_count"`
	BlacklistCount int64                   `json:"blacklist_count"`
	LastUpdated    time.Time               `json:"last_updated"`
}

func (s Stats) successRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

func (s Stats) greylistRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.GreylistCount) / float64(s.Attempts)
}

// Suggestion is an observability event: the store thinks a domain's profile
// should move, under thresholds deliberately more conservative than the
// override it hands to the classifier. Quick to downgrade, slow to upgrade.
type Suggestion struct {
	Domain    string `json:"domain"`
	Direction string `json:"direction"` // upgrade or downgrade
	Reason    string `json:"reason"`
	Stats     Stats  `json:"stats"`
}

// SuggestionSink receives upgrade/downgrade suggestions as they are
// evaluated. Implementations must not block.
type SuggestionSink interface {
	Suggest(s Suggestion)
}

// Override thresholds: what GetImprovedClassification actually returns.
const (
	minAttemptsForOverride = 3
	upgradeSuccessRate     = 0.9
	upgradeGreylistRate    = 0.1
	downgradeSuccessRate   = 0.5
	downgradeGreylistRate  = 0.4
)

// Suggestion thresholds: telemetry only. Kept separate from the override
// thresholds on purpose; they are independent policies.
const (
	suggestUpgradeAttempts     = 10
	suggestUpgradeSuccessRate  = 0.8
	suggestUpgradeGreylistRate = 0.2
	suggestDowngradeAttempts   = 5
	suggestDowngradeGreylist   = 0.5
	suggestDowngradeBlacklists = 2
)

// Consecutive timeouts tolerated before they start counting as failures.
const timeoutFailureThreshold = 3

type entry struct {
	mu            sync.Mutex
	stats         Stats
	timeoutStreak int
}

// Store tracks per-MX-domain probe outcomes in memory. It is explicitly
// constructed and injected, never a package-level singleton, so tests can
// substitute their own instance and concurrency stays governed here.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	sink    SuggestionSink
	now     func() time.Time
}

func NewStore(sink SuggestionSink) *Store {
	return &Store{
		entries: make(map[string]*entry),
		sink:    sink,
		now:     time.Now,
	}
}

func (s *Store) entryFor(mxDomain string, used classify.Classification) *entry {
	s.mu.RLock()
	e, ok := s.entries[mxDomain]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[mxDomain]; ok {
		return e
	}
	e = &entry{stats: Stats{MXDomain: mxDomain, Classification: used}}
	s.entries[mxDomain] = e
	return e
}

// RecordOutcome folds one probe outcome into the domain's ledger and then
// evaluates the suggestion policies. A nil outcome is no signal: nothing is
// counted and existing data is left intact.
func (s *Store) RecordOutcome(mxDomain string, used classify.Classification, outcome *probe.Outcome) {
	if mxDomain == "" || outcome == nil {
		return
	}

	e := s.entryFor(mxDomain, used)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.LastUpdated = s.now()

	if outcome.Timeout {
		e.timeoutStreak++
		if e.timeoutStreak <= timeoutFailureThreshold {
			return
		}
		// The domain keeps timing out; stop treating it as noise.
		e.stats.Attempts++
		e.stats.Failures++
		return
	}
	e.timeoutStreak = 0

	e.stats.Attempts++
	if outcome.Deliverable {
		e.stats.Successes++
	}
	if outcome.Error {
		e.stats.Failures++
	}
	if outcome.Greylisted {
		e.stats.GreylistCount++
	}
	if outcome.Disabled {
		e.stats.BlacklistCount++
	}

	s.evaluateSuggestions(e.stats)
}

func (s *Store) evaluateSuggestions(st Stats) {
	if s.sink == nil {
		return
	}

	if st.Attempts > suggestUpgradeAttempts &&
		st.successRate() > suggestUpgradeSuccessRate &&
		st.greylistRate() < suggestUpgradeGreylistRate {
		s.sink.Suggest(Suggestion{
			Domain:    st.MXDomain,
			Direction: "upgrade",
			Reason:    "sustained high success rate with little greylisting",
			Stats:     st,
		})
	}

	if st.Attempts > suggestDowngradeAttempts &&
		(st.greylistRate() > suggestDowngradeGreylist || st.BlacklistCount > suggestDowngradeBlacklists) {
		s.sink.Suggest(Suggestion{
			Domain:    st.MXDomain,
			Direction: "downgrade",
			Reason:    "heavy greylisting or repeated policy blocks",
			Stats:     st,
		})
	}
}

// GetImprovedClassification returns a learned override for the domain, or
// nil when there is not enough data or the evidence is mixed. It implements
// classify.OverrideSource.
func (s *Store) GetImprovedClassification(mxDomain string) *classify.Classification {
	s.mu.RLock()
	e, ok := s.entries[mxDomain]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	st := e.stats
	e.mu.Unlock()

	if st.Attempts < minAttemptsForOverride {
		return nil
	}

	success := st.successRate()
	greylist := st.greylistRate()

	if success > upgradeSuccessRate && greylist < upgradeGreylistRate {
		return &classify.Classification{
			Organization:      "learned_" + st.Classification.Organization,
			ProcessingProfile: "business_smtp_standard",
			Confidence:        classify.ConfidenceHigh,
			Source:            classify.SourceAdaptiveLearning,
		}
	}

	if success < downgradeSuccessRate || greylist > downgradeGreylistRate {
		return &classify.Classification{
			Organization:      st.Classification.Organization,
			ProcessingProfile: "unknown_mx_ultra_conservative",
			Confidence:        classify.ConfidenceHigh,
			Source:            classify.SourceAdaptiveLearning,
		}
	}

	return nil
}

// Snapshot returns a copy of the ledger for the status/observability surface.
func (s *Store) Snapshot() []Stats {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Stats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.stats)
		e.mu.Unlock()
	}
	return out
}
