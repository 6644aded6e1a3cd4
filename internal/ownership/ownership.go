// Package ownership attributes observed server activity to the local
// controller or to someone else sharing the server.
//
// The server exposes no job identifiers, only a batch start timestamp with
// one-second granularity, so attribution compares that timestamp against the
// moment the local controller submitted its request. Two submissions from
// different clients inside the tolerance window cannot be told apart; the
// result is a best-effort classification, not a guarantee.
package ownership

import "time"

// Decision is the classification of a single progress reading.
type Decision string

const (
	Idle      Decision = "idle"
	OursPass1 Decision = "ours-pass-1"
	OursPass2 Decision = "ours-pass-2"
	External  Decision = "external"
	Unknown   Decision = "unknown"
)

// Stage identifies which pass the local active job is in.
type Stage int

const (
	StageNone Stage = iota
	StagePass1
	StagePass2
)

// DefaultTolerance is the accepted skew between the local submission time and
// the server batch timestamp.
const DefaultTolerance = 5 * time.Second

// Input is everything Classify looks at.
type Input struct {
	// Active reports whether a local job is currently running.
	Active bool
	Stage  Stage
	// Progress is the server-reported fraction in [0,1].
	Progress float64
	// ServerTimestamp is the batch start time; zero when unparsable.
	ServerTimestamp time.Time
	// Submitted is when the local pass was submitted; zero when unknown.
	Submitted time.Time
	Tolerance time.Duration
}

// Classify derives a Decision from its inputs. It has no side effects.
func Classify(in Input) Decision {
	if in.Progress <= 0 {
		return Idle
	}
	if !in.Active {
		return External
	}
	if in.Submitted.IsZero() || in.ServerTimestamp.IsZero() {
		return Unknown
	}
	if !Matches(in.ServerTimestamp, in.Submitted, in.Tolerance) {
		return External
	}
	if in.Stage == StagePass2 {
		return OursPass2
	}
	return OursPass1
}

// Matches reports whether a server batch timestamp falls within tolerance of
// a local submission. Comparison is in whole seconds. Zero times never match.
func Matches(server, submitted time.Time, tolerance time.Duration) bool {
	if server.IsZero() || submitted.IsZero() {
		return false
	}
	if tolerance < 0 {
		tolerance = 0
	}
	skew := server.Unix() - submitted.Unix()
	if skew < 0 {
		skew = -skew
	}
	return time.Duration(skew)*time.Second <= tolerance
}

// Ours reports whether the decision attributes activity to the local job.
func (d Decision) Ours() bool {
	return d == OursPass1 || d == OursPass2
}

func (d Decision) String() string {
	return string(d)
}
