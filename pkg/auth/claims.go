package auth

import (
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	SubjectID    uuid.UUID
	AgentID      *uuid.UUID
	Capabilities []enums.Capability
	CustomerTier enums.CustomerTier
	JTI          string
}

// AccessTokenClaims represents the typed JWT presented by callers.
type AccessTokenClaims struct {
	SubjectID    uuid.UUID          `json:"sub_id"`
	AgentID      *uuid.UUID         `json:"agent_id,omitempty"`
	Capabilities []enums.Capability `json:"capabilities"`
	CustomerTier enums.CustomerTier `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Tier is the pricing tier the caller buys at. Tokens without one price at
// the standard tier.
func (c *AccessTokenClaims) Tier() enums.CustomerTier {
	if c == nil || c.CustomerTier == "" {
		return enums.CustomerTierStandard
	}
	return c.CustomerTier
}

// Has reports whether the token grants the capability.
func (c *AccessTokenClaims) Has(capability enums.Capability) bool {
	if c == nil {
		return false
	}
	for _, granted := range c.Capabilities {
		if granted == capability {
			return true
		}
	}
	return false
}
