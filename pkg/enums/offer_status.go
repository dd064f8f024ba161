package enums

import "fmt"

// OfferStatus maps to the offer_status enum in Postgres.
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
)

var validOfferStatuses = []OfferStatus{
	OfferStatusPending,
	OfferStatusAccepted,
	OfferStatusRejected,
	OfferStatusExpired,
}

func (s OfferStatus) IsValid() bool {
	for _, candidate := range validOfferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOfferStatus converts raw input into OfferStatus.
func ParseOfferStatus(value string) (OfferStatus, error) {
	for _, candidate := range validOfferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid offer status %q", value)
}

// OfferDecision represents the answer an agent gives to an offer.
type OfferDecision string

const (
	// OfferDecisionAccept indicates the agent takes the job.
	OfferDecisionAccept OfferDecision = "accept"
	// OfferDecisionReject indicates the agent declines the job.
	OfferDecisionReject OfferDecision = "reject"
)

func (d OfferDecision) IsValid() bool {
	return d == OfferDecisionAccept || d == OfferDecisionReject
}
