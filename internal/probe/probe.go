package probe

import "context"

// ErrorMsg carries a short operator-facing message plus whatever protocol
// detail produced it. The message is safe to surface to callers.
type ErrorMsg struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Outcome is the raw result of probing one email against its MX hosts. The
// flags are independent signals; DeriveStatus folds them into the
// caller-visible status.
type Outcome struct {
	HostExists      bool      `json:"host_exists"`
	FullInbox       bool      `json:"full_inbox"`
	CatchAll        bool      `json:"catch_all"`
	Deliverable     bool      `json:"deliverable"`
	Disabled        bool      `json:"disabled"`
	Error           bool      `json:"error"`
	ErrorMsg        *ErrorMsg `json:"error_msg,omitempty"`
	Greylisted      bool      `json:"greylisted"`
	RequiresRecheck bool      `json:"requires_recheck"`
	Timeout         bool      `json:"timeout,omitempty"`
}

// Prober performs the network check for one email against the given MX
// hosts. Implementations must honor ctx and always return a non-nil Outcome;
// transport problems are reported through the Error/ErrorMsg fields.
type Prober interface {
	Probe(ctx context.Context, email string, mxHosts []string) *Outcome
}
