package inventory

import (
	"encoding/json"
	"regexp"
	"time"
)

// StoppedFlag answers "has this server been stopped for at least N days".
// The zero value is StoppedNotApplicable.
type StoppedFlag int

const (
	// StoppedNotApplicable means the server is not stopped.
	StoppedNotApplicable StoppedFlag = iota
	// StoppedUnknown means the server is stopped but the stop time is unknown.
	StoppedUnknown
	// StoppedFalse means the server stopped less than N days ago.
	StoppedFalse
	// StoppedTrue means the server stopped at least N days ago.
	StoppedTrue
)

// Bool returns the flag as a nullable boolean. NotApplicable reads as false,
// Unknown as nil.
func (f StoppedFlag) Bool() *bool {
	var b bool
	switch f {
	case StoppedUnknown:
		return nil
	case StoppedTrue:
		b = true
	}
	return &b
}

func (f StoppedFlag) String() string {
	switch f {
	case StoppedUnknown:
		return "unknown"
	case StoppedFalse:
		return "false"
	case StoppedTrue:
		return "true"
	default:
		return "not_applicable"
	}
}

// MarshalJSON writes false, true or null.
func (f StoppedFlag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Bool())
}

// UnmarshalJSON reads false, true or null. A stored false cannot be told
// apart from not-applicable and is read back as StoppedFalse.
func (f *StoppedFlag) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	switch {
	case b == nil:
		*f = StoppedUnknown
	case *b:
		*f = StoppedTrue
	default:
		*f = StoppedFalse
	}
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (f StoppedFlag) MarshalYAML() (any, error) {
	return f.Bool(), nil
}

// UnmarshalYAML mirrors UnmarshalJSON. yaml.v3 does not call it for a null
// node and leaves the field at its current value instead.
func (f *StoppedFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var b *bool
	if err := unmarshal(&b); err != nil {
		return err
	}
	switch {
	case b == nil:
		*f = StoppedUnknown
	case *b:
		*f = StoppedTrue
	default:
		*f = StoppedFalse
	}
	return nil
}

// StatusStopped is the canonical status of a stopped server.
const StatusStopped = "stopped"

var transitionPattern = regexp.MustCompile(`\((\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) GMT\)`)

const transitionLayout = "2006-01-02 15:04:05"

// ParseStateTransitionTime extracts the UTC timestamp from a provider state
// reason such as "User initiated (2024-01-02 10:11:12 GMT)".
// It reports false when no timestamp is found.
func ParseStateTransitionTime(reason string) (time.Time, bool) {
	m := transitionPattern.FindStringSubmatch(reason)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(transitionLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// StoppedState holds the stop-age derivation for one server.
type StoppedState struct {
	Since   *time.Time
	For30   StoppedFlag
	For90   StoppedFlag
	Parsed  bool
	Stopped bool
}

// DeriveStopped computes the 30/90 day flags from a status and the free-text
// state reason. Servers that are not stopped get NotApplicable; stopped
// servers whose reason cannot be parsed get Unknown.
func DeriveStopped(status, reason string, now time.Time) StoppedState {
	if status != StatusStopped {
		return StoppedState{}
	}
	st := StoppedState{Stopped: true, For30: StoppedUnknown, For90: StoppedUnknown}
	since, ok := ParseStateTransitionTime(reason)
	if !ok {
		return st
	}
	return stoppedSince(st, since, now)
}

// ApplyStoppedSince resolves an Unknown state with a stop time found by
// other means.
func ApplyStoppedSince(st StoppedState, since, now time.Time) StoppedState {
	if !st.Stopped {
		return st
	}
	return stoppedSince(st, since, now)
}

func stoppedSince(st StoppedState, since, now time.Time) StoppedState {
	st.Since = &since
	st.Parsed = true
	st.For30 = olderThan(since, now, 30)
	st.For90 = olderThan(since, now, 90)
	return st
}

func olderThan(t, now time.Time, days int) StoppedFlag {
	if t.Before(now.AddDate(0, 0, -days)) {
		return StoppedTrue
	}
	return StoppedFalse
}
