package probe

import "testing"

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		outcome *Outcome
		want    Status
	}{
		{"nil outcome", nil, StatusUnknown},
		{"error", &Outcome{Error: true, ErrorMsg: &ErrorMsg{Message: "connection failed"}}, StatusUnknown},
		{"error wins over deliverable", &Outcome{Error: true, Deliverable: true}, StatusUnknown},
		{"disabled", &Outcome{Disabled: true, HostExists: true}, StatusInvalid},
		{"hard rejection", &Outcome{HostExists: true}, StatusInvalid},
		{"catch-all", &Outcome{HostExists: true, CatchAll: true, Deliverable: true}, StatusCatchAll},
		{"deliverable", &Outcome{HostExists: true, Deliverable: true}, StatusValid},
		{"full inbox", &Outcome{HostExists: true, FullInbox: true, RequiresRecheck: true}, StatusUnknown},
		{"greylisted", &Outcome{HostExists: true, Greylisted: true, RequiresRecheck: true}, StatusUnknown},
		{"empty outcome", &Outcome{}, StatusUnknown},
	}

	for _, tt := range tests {
		got, reason := DeriveStatus(tt.outcome)
		if got != tt.want {
			t.Errorf("%s: DeriveStatus = %q, want %q", tt.name, got, tt.want)
		}
		if reason == "" {
			t.Errorf("%s: reason should never be empty", tt.name)
		}
	}
}

func TestDeriveStatusDeterministic(t *testing.T) {
	o := &Outcome{HostExists: true, Deliverable: true}
	first, _ := DeriveStatus(o)
	for i := 0; i < 5; i++ {
		if got, _ := DeriveStatus(o); got != first {
			t.Fatalf("status changed between calls: %q vs %q", got, first)
		}
	}
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		reply string
		check func(o *Outcome) bool
		desc  string
	}{
		{"550 5.1.1 user unknown", func(o *Outcome) bool { return o.HostExists && !o.Deliverable }, "user unknown"},
		{"552 mailbox full", func(o *Outcome) bool { return o.FullInbox && o.RequiresRecheck }, "full inbox"},
		{"451 4.7.1 greylisted, try again later", func(o *Outcome) bool { return o.Greylisted && o.RequiresRecheck }, "greylist"},
		{"554 5.7.1 access denied", func(o *Outcome) bool { return o.Disabled }, "policy block"},
		{"999 something novel", func(o *Outcome) bool { return o.Error && o.ErrorMsg != nil }, "unknown reply"},
	}

	for _, tt := range tests {
		got := classifyReply(errString(tt.reply))
		if !tt.check(got) {
			t.Errorf("%s: classifyReply(%q) = %+v", tt.desc, tt.reply, got)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
