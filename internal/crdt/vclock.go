package crdt

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goccy/go-json"
)

// ErrInvalidCounter indicates a counter value that is not strictly positive.
var ErrInvalidCounter = errors.New("counter must be strictly positive")

// Counter is a value of the process-wide change counter. Counters are always
// strictly positive and never decrease.
type Counter int64

// NewCounter validates v and converts it to a Counter.
func NewCounter(v int64) (Counter, error) {
	if v <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidCounter, v)
	}
	return Counter(v), nil
}

// MustCounter is like NewCounter but panics on invalid input. Use it for
// literal values only; counters read from storage go through NewCounter.
func MustCounter(v int64) Counter {
	c, err := NewCounter(v)
	if err != nil {
		panic(fmt.Sprintf("corrupt db? %v", err))
	}
	return c
}

// Next returns c+1, panicking on overflow.
func (c Counter) Next() Counter {
	if c == math.MaxInt64 {
		panic("corrupt db? change counter overflow")
	}
	return c + 1
}

// Ordering is the causal relationship between two vector clocks.
type Ordering int

const (
	// Equal clocks have identical entries.
	Equal Ordering = iota
	// Before means the receiver causally precedes the other clock.
	Before
	// After means the receiver causally follows the other clock.
	After
	// Concurrent means neither clock dominates the other.
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// VClock maps a client identifier to the highest counter value attributed to
// that client for one record. It is a per-client "last write" clock: a write
// only ever replaces the writer's own entry.
//
// VClock values are treated as immutable; Apply returns a new clock.
type VClock map[string]Counter

// NewVClock returns a clock with a single entry.
func NewVClock(clientID string, c Counter) VClock {
	return VClock{clientID: c}
}

// Get returns the counter for clientID, or 0 if the client never wrote.
func (vc VClock) Get(clientID string) Counter {
	return vc[clientID]
}

// Apply returns a copy of vc with the entry for clientID replaced by c.
// Entries for other clients are preserved verbatim.
func (vc VClock) Apply(clientID string, c Counter) VClock {
	out := vc.Clone()
	out[clientID] = c
	return out
}

// Clone создает копию часов
func (vc VClock) Clone() VClock {
	out := make(VClock, len(vc)+1)
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Compare determines the causal relationship of vc relative to other.
// Missing entries count as zero.
func (vc VClock) Compare(other VClock) Ordering {
	less, greater := false, false

	for id, c := range vc {
		oc := other[id]
		if c > oc {
			greater = true
		} else if c < oc {
			less = true
		}
	}
	for id, oc := range other {
		if _, ok := vc[id]; !ok && oc > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Dominates reports whether vc is causally equal to or after other.
func (vc VClock) Dominates(other VClock) bool {
	o := vc.Compare(other)
	return o == Equal || o == After
}

// Clients returns the client identifiers in the clock, sorted.
func (vc VClock) Clients() []string {
	ids := make([]string, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encode serializes the clock for storage.
func (vc VClock) Encode() (string, error) {
	if vc == nil {
		vc = VClock{}
	}
	data, err := json.Marshal(map[string]Counter(vc))
	if err != nil {
		return "", fmt.Errorf("failed to encode vector clock: %w", err)
	}
	return string(data), nil
}

// DecodeVClock parses a clock written by Encode. An empty string yields an
// empty clock.
func DecodeVClock(s string) (VClock, error) {
	vc := VClock{}
	if s == "" {
		return vc, nil
	}
	var raw map[string]int64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode vector clock: %w", err)
	}
	for id, v := range raw {
		c, err := NewCounter(v)
		if err != nil {
			return nil, fmt.Errorf("vector clock entry %q: %w", id, err)
		}
		vc[id] = c
	}
	return vc, nil
}
