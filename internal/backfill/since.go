package backfill

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the lower bound of a backfill run.
type Mode int

const (
	// FromNow pages back from the current time with no lower bound.
	FromNow Mode = iota
	// ResumeFromLastKnown stops at the newest record already stored.
	ResumeFromLastKnown
	// FromTime stops at an explicit time.
	FromTime
)

func (m Mode) String() string {
	switch m {
	case FromNow:
		return "now"
	case ResumeFromLastKnown:
		return "resume"
	case FromTime:
		return "time"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Since is the lower bound of a backfill run.
type Since struct {
	Mode Mode
	Time time.Time // FromTime only
}

var (
	// Now backfills everything the exchange returns.
	Now = Since{Mode: FromNow}
	// Resume backfills down to the newest stored record.
	Resume = Since{Mode: ResumeFromLastKnown}
)

// SinceTime backfills down to t.
func SinceTime(t time.Time) Since {
	return Since{Mode: FromTime, Time: t.UTC()}
}

// ParseSince accepts "now", "resume", an RFC 3339 time or a YYYY-MM-DD date.
func ParseSince(s string) (Since, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "now":
		return Now, nil
	case "resume":
		return Resume, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return SinceTime(t), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return SinceTime(t), nil
	}
	return Since{}, fmt.Errorf("invalid since %q: want now, resume, RFC 3339 or YYYY-MM-DD", s)
}

func (s Since) String() string {
	if s.Mode == FromTime {
		return s.Time.Format(time.RFC3339)
	}
	return s.Mode.String()
}
