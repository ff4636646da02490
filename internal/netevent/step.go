package netevent

import "time"

type eventKind int

const (
	presenceIdle eventKind = iota
	presenceActive
	networkDown
	networkUp
)

func (k eventKind) String() string {
	switch k {
	case presenceIdle:
		return "presence_idle"
	case presenceActive:
		return "presence_active"
	case networkDown:
		return "network_down"
	case networkUp:
		return "network_up"
	default:
		return "unknown"
	}
}

type event struct {
	kind eventKind
	at   time.Time
}

type state struct {
	idle          bool
	pending       bool
	suppressUntil time.Time
}

type effectKind int

const (
	cancelPending effectKind = iota
	openSuppression
	scheduleRefresh
	restartEpoch
)

type effect struct {
	kind  effectKind
	delay time.Duration
}

// step is the pure transition of the debouncer. Effects are listed in the
// order they must be applied.
func step(cfg Config, st state, ev event) (state, []effect) {
	switch ev.kind {
	case presenceIdle:
		var effs []effect
		if st.pending {
			effs = append(effs, effect{kind: cancelPending})
		}
		st.idle = true
		st.pending = false
		return st, effs

	case presenceActive:
		if !st.idle {
			return st, nil
		}
		st.idle = false
		return st, []effect{{kind: restartEpoch}}
	}

	// network events are ignored while idle
	if st.idle {
		return st, nil
	}

	var effs []effect
	if st.pending {
		effs = append(effs, effect{kind: cancelPending})
		st.pending = false
	}
	if ev.kind == networkDown {
		return st, effs
	}

	st.suppressUntil = ev.at.Add(cfg.SuppressDuration)
	st.pending = true
	effs = append(effs,
		effect{kind: openSuppression, delay: cfg.SuppressDuration},
		effect{kind: scheduleRefresh, delay: cfg.DebounceDelay},
	)
	return st, effs
}
