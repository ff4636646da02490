package refresh

// Outcome is the terminal state of one Refresh call
type Outcome int

const (
	// Applied means the result replaced the current state
	Applied Outcome = iota
	// Superseded means a newer cycle, or disabling, invalidated the result
	Superseded
	// Failed means the lookup produced no usable address or geolocation
	Failed
	SkippedDisabled
	SkippedThrottled
	SkippedInFlight
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Superseded:
		return "superseded"
	case Failed:
		return "failed"
	case SkippedDisabled:
		return "skipped_disabled"
	case SkippedThrottled:
		return "skipped_throttled"
	case SkippedInFlight:
		return "skipped_in_flight"
	default:
		return "unknown"
	}
}

// Skipped reports whether the call returned before starting a cycle
func (o Outcome) Skipped() bool {
	return o == SkippedDisabled || o == SkippedThrottled || o == SkippedInFlight
}
