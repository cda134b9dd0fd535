package breaks

import (
	"fmt"
	"sort"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/roerr"
)

// PartKind tags a route part as driving or servicing.
type PartKind string

const (
	Transit PartKind = "transit"
	Service PartKind = "service"
	Rest    PartKind = "rest"
)

// RoutePart is one segment of a finished route, with start/end offsets in
// seconds from midnight.
type RoutePart struct {
	Kind  PartKind
	Start int
	End   int
}

func (p RoutePart) Duration() int { return p.End - p.Start }

// BreakRequest is a manual break to place: a wanted window plus how far
// from its start the placement may slide.
type BreakRequest struct {
	Start        int
	End          int
	SlackSeconds int
}

func (b BreakRequest) Duration() int { return b.End - b.Start }

// RequestsFromDriverBreaks converts a driver's declared breaks into
// placement requests, expressed in seconds from the given day's midnight.
// Declared slack is in whole minutes.
func RequestsFromDriverBreaks(declared []*domain.DriverBreak, midnight time.Time) []BreakRequest {
	out := make([]BreakRequest, 0, len(declared))
	for _, b := range declared {
		out = append(out, BreakRequest{
			Start:        int(b.Start.Sub(midnight).Seconds()),
			End:          int(b.End.Sub(midnight).Seconds()),
			SlackSeconds: b.SlackMinutes * 60,
		})
	}
	return out
}

// Validator inspects a candidate part sequence and rejects infeasible ones.
type Validator func(parts []RoutePart) error

// MaxEndValidator rejects routes running past a deadline.
func MaxEndValidator(maxEnd int) Validator {
	return func(parts []RoutePart) error {
		if n := len(parts); n > 0 && parts[n-1].End > maxEnd {
			return fmt.Errorf("route ends at %d, after limit %d", parts[n-1].End, maxEnd)
		}
		return nil
	}
}

// ManualBreakInDriverRoute inserts manual breaks into a route already
// split into alternating Transit/Service parts. Insertion either fully
// succeeds for every break or fails as a whole; the input parts are never
// modified.
type ManualBreakInDriverRoute struct {
	parts      []RoutePart
	validators []Validator
}

func NewManualBreakInDriverRoute(parts []RoutePart, validators ...Validator) *ManualBreakInDriverRoute {
	return &ManualBreakInDriverRoute{
		parts:      append([]RoutePart(nil), parts...),
		validators: validators,
	}
}

// Insert places every break, extending downstream parts by each break's
// duration. Breaks are placed in (start, end) order. Returns
// roerr.ErrCannotInsertBreak when any break fits nowhere; the route is
// then unusable with this break configuration.
func (m *ManualBreakInDriverRoute) Insert(requests []BreakRequest) ([]RoutePart, error) {
	ordered := append([]BreakRequest(nil), requests...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End < ordered[j].End
	})

	parts := append([]RoutePart(nil), m.parts...)
	for _, br := range ordered {
		next, ok := m.insertOne(parts, br)
		if !ok {
			return nil, fmt.Errorf("break %d-%d: %w", br.Start, br.End, roerr.ErrCannotInsertBreak)
		}
		parts = next
	}
	return parts, nil
}

// insertOne scans parts in order for the first placement that passes
// validation.
func (m *ManualBreakInDriverRoute) insertOne(parts []RoutePart, br BreakRequest) ([]RoutePart, bool) {
	for i, p := range parts {
		at, fits := placement(p, br)
		if !fits {
			continue
		}
		candidate := spliceBreak(parts, i, at, br.Duration())
		if m.valid(candidate) {
			return candidate, true
		}
		// Try a later part; this one produced an infeasible route.
	}
	return nil, false
}

// placement decides where inside (or at the edge of) one part the break
// may start. Transit parts accept the break anywhere inside, or snapped to
// a boundary within slack. Service parts cannot be interrupted: the break
// goes after them, and only when the slack window covers that point.
func placement(p RoutePart, br BreakRequest) (int, bool) {
	switch p.Kind {
	case Transit:
		if br.Start >= p.Start && br.Start <= p.End {
			return br.Start, true
		}
		if br.Start < p.Start && br.Start+br.SlackSeconds >= p.Start {
			return p.Start, true
		}
		if br.Start > p.End && br.Start-br.SlackSeconds <= p.End {
			return p.End, true
		}
	case Service:
		if br.Start-br.SlackSeconds <= p.End && br.Start+br.SlackSeconds >= p.End {
			return p.End, true
		}
	}
	return 0, false
}

// spliceBreak inserts a rest of the given duration at offset at inside or
// after part i, shifting everything downstream.
func spliceBreak(parts []RoutePart, i, at, duration int) []RoutePart {
	out := make([]RoutePart, 0, len(parts)+2)
	out = append(out, parts[:i]...)

	p := parts[i]
	if p.Kind == Transit && at > p.Start && at < p.End {
		out = append(out,
			RoutePart{Kind: Transit, Start: p.Start, End: at},
			RoutePart{Kind: Rest, Start: at, End: at + duration},
			RoutePart{Kind: Transit, Start: at + duration, End: p.End + duration},
		)
	} else if at <= p.Start {
		out = append(out,
			RoutePart{Kind: Rest, Start: at, End: at + duration},
			RoutePart{Kind: p.Kind, Start: p.Start + duration, End: p.End + duration},
		)
	} else {
		out = append(out,
			p,
			RoutePart{Kind: Rest, Start: at, End: at + duration},
		)
	}

	for _, rest := range parts[i+1:] {
		rest.Start += duration
		rest.End += duration
		out = append(out, rest)
	}
	return out
}

func (m *ManualBreakInDriverRoute) valid(parts []RoutePart) bool {
	for _, v := range m.validators {
		if v(parts) != nil {
			return false
		}
	}
	return true
}
