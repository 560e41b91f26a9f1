package probe

// Status is the four-value enum exposed to callers.
type Status string

const (
	StatusValid    Status = "valid"
	StatusInvalid  Status = "invalid"
	StatusCatchAll Status = "catch-all"
	StatusUnknown  Status = "unknown"
)

// DeriveStatus maps a raw outcome to the externally visible status and a
// human-readable reason. It is a pure function; the same outcome always
// yields the same status.
func DeriveStatus(o *Outcome) (Status, string) {
	if o == nil {
		return StatusUnknown, "no probe result"
	}

	switch {
	case o.Error:
		reason := "verification could not be completed"
		if o.ErrorMsg != nil && o.ErrorMsg.Message != "" {
			reason = o.ErrorMsg.Message
		}
		return StatusUnknown, reason

	case o.Disabled:
		return StatusInvalid, "mailbox is disabled or blocked"

	case o.HostExists && !o.Deliverable && !o.CatchAll && !o.FullInbox && !o.Greylisted:
		return StatusInvalid, "mailbox does not exist"

	case o.CatchAll:
		return StatusCatchAll, "domain accepts mail for any address"

	case o.Deliverable:
		return StatusValid, "mailbox exists and accepts mail"

	case o.FullInbox:
		return StatusUnknown, "mailbox is full, retry pending"

	case o.Greylisted:
		return StatusUnknown, "greylisted by the receiving server, retry pending"

	default:
		return StatusUnknown, "inconclusive probe result"
	}
}
