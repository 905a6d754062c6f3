// Package status collects keyed diagnostic messages that accumulate while
// growth parameters are extracted from a plate. A single failed well should
// not abort a whole-plate analysis, so the extraction operations return a
// *Status alongside their values and callers decide what to surface.
package status

import (
	"fmt"
	"sort"
	"strings"
)

// Severity orders messages when several share a key. Warning outranks Failed:
// a warning means a value was produced but is suspect, which the caller must
// see even when sibling wells failed outright.
type Severity int

const (
	Message Severity = iota + 1
	Failed
	Warning
)

// Status is either a single keyed message or a list of sub-statuses. The
// zero value and nil are both usable empty lists.
type Status struct {
	Key  string
	Long string

	// Rank breaks ties between same-key same-severity messages; higher
	// wins. Used e.g. to report the largest stderr multiple that was needed
	// to accept a yield window.
	Rank int

	severity Severity
	sub      []*Status
	leaf     bool
}

// New returns a single-message status.
func New(key string, severity Severity, format string, args ...interface{}) *Status {
	return &Status{
		Key:      key,
		Long:     fmt.Sprintf(format, args...),
		severity: severity,
		leaf:     true,
	}
}

// List returns an empty status list.
func List() *Status {
	return &Status{}
}

// Add appends a sub-status. Adding nil or an empty status is a no-op, so
// callers can pass through results unconditionally.
func (s *Status) Add(sub *Status) {
	if s.leaf {
		panic("status: cannot add to a single message")
	}
	if sub == nil || sub.IsEmpty() {
		return
	}
	s.sub = append(s.sub, sub)
}

// IsEmpty reports whether no message is held.
func (s *Status) IsEmpty() bool {
	if s == nil {
		return true
	}
	if s.leaf {
		return false
	}
	for _, sub := range s.sub {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

// RemoveKey removes all messages with the given key, recursively, pruning
// sub-lists that become empty. It returns the number of removed messages.
func (s *Status) RemoveKey(key string) int {
	if s == nil || s.leaf {
		return 0
	}
	removed := 0
	kept := s.sub[:0]
	for _, sub := range s.sub {
		if sub.leaf {
			if sub.Key == key {
				removed++
				continue
			}
			kept = append(kept, sub)
			continue
		}
		removed += sub.RemoveKey(key)
		if !sub.IsEmpty() {
			kept = append(kept, sub)
		}
	}
	s.sub = kept
	return removed
}

// WithKey returns all messages with the given key, recursively.
func (s *Status) WithKey(key string) []*Status {
	if s == nil {
		return nil
	}
	if s.leaf {
		if s.Key == key {
			return []*Status{s}
		}
		return nil
	}
	var out []*Status
	for _, sub := range s.sub {
		out = append(out, sub.WithKey(key)...)
	}
	return out
}

// Severity returns the highest severity held, or Message when empty.
func (s *Status) Severity() Severity {
	if s == nil {
		return Message
	}
	if s.leaf {
		return s.severity
	}
	sev := Message
	for _, sub := range s.sub {
		if subsev := sub.Severity(); subsev > sev {
			sev = subsev
		}
	}
	return sev
}

// byKey returns, for each key, the highest-priority message.
func (s *Status) byKey(out map[string]*Status) {
	if s == nil {
		return
	}
	if s.leaf {
		have, exists := out[s.Key]
		if exists && (s.Severity() < have.Severity() ||
			(s.Severity() == have.Severity() && s.Rank <= have.Rank)) {
			return
		}
		out[s.Key] = s
		return
	}
	for _, sub := range s.sub {
		sub.byKey(out)
	}
}

// Message renders one line per key, keys sorted, keeping only the highest
// priority message for each key.
func (s *Status) Message() string {
	keyed := make(map[string]*Status)
	s.byKey(keyed)

	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := strings.Builder{}
	for i, k := range keys {
		if i != 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(" ")
		if keyed[k].Severity() == Warning {
			b.WriteString("WARNING ")
		}
		b.WriteString(keyed[k].Long)
	}

	return b.String()
}

func (s *Status) String() string {
	return s.Message()
}
