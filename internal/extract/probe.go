package extract

import (
	"os"
	"time"
)

// ProbeResult describes session state file freshness. The dispatch engine
// passes Valid through to the triage classifier as the source-session
// signal.
type ProbeResult struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason"`
	StatePath string `json:"state_path"`
	AgeHours  float64 `json:"age_hours,omitempty"`
}

// SessionProbe checks that the browser session state file exists and is
// fresh enough to reuse. It never touches the network; refreshing the
// session is the external session job's problem.
type SessionProbe struct {
	StatePath string
	MaxAge    time.Duration
	Now       func() time.Time
}

func (p SessionProbe) Check() ProbeResult {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	res := ProbeResult{StatePath: p.StatePath}

	info, err := os.Stat(p.StatePath)
	if err != nil {
		res.Reason = "session state file missing; run the session bootstrap job"
		return res
	}

	age := now().Sub(info.ModTime())
	res.AgeHours = age.Hours()
	if p.MaxAge > 0 && age > p.MaxAge {
		res.Reason = "session state file stale; refresh the session"
		return res
	}

	res.Valid = true
	res.Reason = "session state file fresh"
	return res
}
