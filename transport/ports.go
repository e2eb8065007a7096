package transport

import "fmt"

// Port defaults shared by the listener and the initiator.
const (
	// DefaultStartPort is the first port both peers try.
	DefaultStartPort uint16 = 5000

	// DefaultMaxAttempts is how many consecutive ports both peers try.
	DefaultMaxAttempts = 100

	// MinValidPort is the minimum valid port number.
	MinValidPort uint16 = 1

	// MaxValidPort is the maximum valid port number.
	MaxValidPort uint16 = 65535
)

// PortRange is the half-open range [Start, Start+Attempts). The listener
// binds the first free port of the range and the initiator connects to the
// first port that answers, both in ascending order, so the two sides must
// be configured with identical ranges.
type PortRange struct {
	Start    uint16
	Attempts int
}

// DefaultPortRange returns [5000, 5100).
func DefaultPortRange() PortRange {
	return PortRange{Start: DefaultStartPort, Attempts: DefaultMaxAttempts}
}

// Validate checks that the range is non-empty and stays within valid ports.
func (r PortRange) Validate() error {
	if r.Start < MinValidPort {
		return fmt.Errorf("invalid start port %d: must be between %d and %d", r.Start, MinValidPort, MaxValidPort)
	}
	if r.Attempts <= 0 {
		return fmt.Errorf("invalid port attempts %d: must be positive", r.Attempts)
	}
	if r.End()-1 > int(MaxValidPort) {
		return fmt.Errorf("port range [%d, %d) exceeds maximum port %d", r.Start, r.End(), MaxValidPort)
	}
	return nil
}

// End returns the exclusive upper bound of the range.
func (r PortRange) End() int {
	return int(r.Start) + r.Attempts
}

// Contains reports whether port is inside the range.
func (r PortRange) Contains(port uint16) bool {
	return int(port) >= int(r.Start) && int(port) < r.End()
}

// Ports returns every port of the range in scan order.
func (r PortRange) Ports() []uint16 {
	if r.Attempts <= 0 {
		return nil
	}
	ports := make([]uint16, 0, r.Attempts)
	for p := int(r.Start); p < r.End() && p <= int(MaxValidPort); p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}

func (r PortRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End())
}
