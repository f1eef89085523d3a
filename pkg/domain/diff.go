package domain

// SessionDiff represents the changes between two session snapshots.
// It is serialized to JSON for partial updates on streaming clients.
type SessionDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	Status  *Status `json:"status,omitempty"`
	Pointer *int    `json:"pointer,omitempty"`
	Round   *int    `json:"round,omitempty"`

	// LoopCounters contains only changed, added or cleared counters.
	// A cleared counter is reported with a zero value.
	LoopCounters map[int]int `json:"loop_counters,omitempty"`

	FailureReason *string `json:"failure_reason,omitempty"`
}

// Diff calculates the difference between two snapshots of the same session.
// If old is nil, it returns a diff representing the entire new snapshot.
// It returns nil when nothing changed.
func Diff(old, new *Session) *SessionDiff {
	if new == nil {
		return nil
	}

	diff := &SessionDiff{SessionID: new.ID}

	if old == nil || old.Status != new.Status {
		diff.Status = &new.Status
	}
	if old == nil || old.Pointer != new.Pointer {
		diff.Pointer = &new.Pointer
	}
	if old == nil || old.Round != new.Round {
		diff.Round = &new.Round
	}
	if new.FailureReason != "" && (old == nil || old.FailureReason != new.FailureReason) {
		diff.FailureReason = &new.FailureReason
	}
	diff.LoopCounters = diffCounters(old, new)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffCounters(old, new *Session) map[int]int {
	delta := make(map[int]int)

	if old == nil {
		for k, v := range new.LoopCounters {
			delta[k] = v
		}
	} else {
		for k, v := range new.LoopCounters {
			if prev, ok := old.LoopCounters[k]; !ok || prev != v {
				delta[k] = v
			}
		}
		for k := range old.LoopCounters {
			if _, ok := new.LoopCounters[k]; !ok {
				delta[k] = 0
			}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *SessionDiff) IsEmpty() bool {
	return d.Status == nil &&
		d.Pointer == nil &&
		d.Round == nil &&
		d.FailureReason == nil &&
		len(d.LoopCounters) == 0
}
