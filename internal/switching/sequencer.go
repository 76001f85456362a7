package switching

import (
	"fmt"
)

const (
	// PortMin is the lowest port index on the supported test sets.
	PortMin = 1

	// PortMax is the highest port index on the 24 port test set.
	PortMax = 24
)

// Pair is one transmit/receive port combination.
type Pair struct {
	Transmit int `json:"transmit"`
	Receive  int `json:"receive"`
}

// Key returns the identifier used for the pair in sweep archives.
func (p Pair) Key() string {
	return fmt.Sprintf("t%dr%d", p.Transmit, p.Receive)
}

func (p Pair) String() string {
	return p.Key()
}

// Sequencer enumerates every ordered pair of distinct ports in raster order:
// the receive port advances fastest and wraps to the next transmit port.
// Self pairs are never produced. A Sequencer is not safe for concurrent use.
type Sequencer struct {
	min, max int

	current  Pair
	complete bool
	done     []int
}

// New creates a Sequencer over the inclusive port range [min, max].
func New(min, max int) (*Sequencer, error) {
	if min < 1 {
		return nil, fmt.Errorf("first port %d must be at least 1", min)
	}
	if max <= min {
		return nil, fmt.Errorf("port range [%d, %d] needs at least two ports", min, max)
	}

	s := Sequencer{min: min, max: max}
	s.Reset()

	return &s, nil
}

// Range returns the port range the sequencer covers.
func (s *Sequencer) Range() (min, max int) {
	return s.min, s.max
}

// Reset rewinds to the first pair of the cycle.
func (s *Sequencer) Reset() {
	s.current = Pair{Transmit: s.min, Receive: s.min + 1}
	s.complete = false
	s.done = s.done[:0]
}

// Current returns the pair to be measured next.
func (s *Sequencer) Current() Pair {
	return s.current
}

// Complete reports whether the cycle has been exhausted.
func (s *Sequencer) Complete() bool {
	return s.complete
}

// Advance moves to the next pair. The second return value is true exactly
// once, on the call that exhausts the cycle; the returned pair is then the
// zero Pair. Further calls return the zero Pair and false until Reset.
func (s *Sequencer) Advance() (Pair, bool) {
	if s.complete {
		return Pair{}, false
	}

	next := s.current
	for {
		next.Receive++
		if next.Receive > s.max {
			s.done = append(s.done, next.Transmit)
			next.Transmit++
			next.Receive = s.min
		}
		if next.Transmit > s.max {
			s.complete = true
			s.current = Pair{}
			return Pair{}, true
		}
		if next.Transmit != next.Receive {
			break
		}
	}

	s.current = next
	return next, false
}

// IsLast reports whether p is the final pair of a cycle.
func (s *Sequencer) IsLast(p Pair) bool {
	return p.Transmit == s.max && p.Receive == s.max-1
}

// PairsPerCycle returns the number of pairs measured in one full cycle.
func (s *Sequencer) PairsPerCycle() int {
	n := s.max - s.min + 1
	return n * (n - 1)
}

// Measured returns the number of pairs already advanced past in the current cycle.
func (s *Sequencer) Measured() int {
	if s.complete {
		return s.PairsPerCycle()
	}
	n := s.max - s.min + 1
	row := s.current.Transmit - s.min
	col := s.current.Receive - s.min
	if s.current.Receive > s.current.Transmit {
		col--
	}
	return row*(n-1) + col
}

// PortsComplete returns the transmit ports whose receive sweep has finished
// in the current cycle.
func (s *Sequencer) PortsComplete() []int {
	out := make([]int, len(s.done))
	copy(out, s.done)
	return out
}
