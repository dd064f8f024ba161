package enums

import "fmt"

// Capability is the single permission unit checked at the API boundary.
type Capability string

const (
	CapabilityReserve        Capability = "can-reserve"
	CapabilityRespondAsAgent Capability = "can-respond-as-agent"
	CapabilityCancel         Capability = "can-cancel"
)

var validCapabilities = []Capability{
	CapabilityReserve,
	CapabilityRespondAsAgent,
	CapabilityCancel,
}

func (c Capability) IsValid() bool {
	for _, candidate := range validCapabilities {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseCapability(value string) (Capability, error) {
	for _, candidate := range validCapabilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid capability %q", value)
}
