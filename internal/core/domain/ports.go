package domain

import (
	"fmt"
	"sync"
)

// DefaultFirstPort is the cursor a new allocator starts from. The first port
// handed out is DefaultFirstPort+1.
const DefaultFirstPort = 12345

// MaxPort is the highest TCP port.
const MaxPort = 65535

// PortRange bounds the ports the allocator may hand out.
type PortRange struct {
	First int // cursor start, never handed out itself
	Last  int // inclusive upper bound, 0 means MaxPort
}

// DefaultPortRange returns DefaultFirstPort up to MaxPort.
func DefaultPortRange() PortRange {
	return PortRange{First: DefaultFirstPort, Last: MaxPort}
}

// upper returns the effective inclusive bound of r.
func (r PortRange) upper() int {
	if r.Last == 0 || r.Last > MaxPort {
		return MaxPort
	}
	return r.Last
}

// PortAllocator hands out strictly increasing port numbers. It is safe for
// concurrent use; no port is ever returned twice.
type PortAllocator struct {
	mu     sync.Mutex
	rng    PortRange
	cursor int
}

// NewPortAllocator creates an allocator for the given range.
func NewPortAllocator(rng PortRange) *PortAllocator {
	return &PortAllocator{rng: rng, cursor: rng.First}
}

// Next returns a fresh port.
func (a *PortAllocator) Next() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if last := a.rng.upper(); a.cursor >= last {
		return 0, fmt.Errorf("%w: range %d-%d", ErrPortsExhausted, a.rng.First+1, last)
	}
	a.cursor++
	return a.cursor, nil
}

// Cursor returns the last port handed out, or the range start if none was.
func (a *PortAllocator) Cursor() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// ValidatePort checks whether port lies inside the range.
func ValidatePort(port int, rng PortRange) bool {
	if port <= rng.First {
		return false
	}
	return port <= rng.upper()
}
