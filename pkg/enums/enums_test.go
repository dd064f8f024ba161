package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusAssigned:   false,
		JobStatusAccepted:   false,
		JobStatusInProgress: false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
		JobStatusCancelled:  true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), status)
		assert.True(t, status.IsValid(), status)
	}
	assert.False(t, JobStatus("shipped").IsValid())
}

func TestJobStatusOfferable(t *testing.T) {
	assert.True(t, JobStatusPending.Offerable())
	assert.True(t, JobStatusAssigned.Offerable())
	assert.False(t, JobStatusAccepted.Offerable())
	assert.False(t, JobStatusCancelled.Offerable())
}

func TestParseHelpers(t *testing.T) {
	unit, err := ParseDurationUnit(" Day ")
	require.NoError(t, err)
	assert.Equal(t, DurationDay, unit)

	_, err = ParseDurationUnit("fortnight")
	assert.Error(t, err)

	tier, err := ParseCustomerTier("PREMIUM")
	require.NoError(t, err)
	assert.Equal(t, CustomerTierPremium, tier)

	capability, err := ParseCapability("can-cancel")
	require.NoError(t, err)
	assert.Equal(t, CapabilityCancel, capability)

	_, err = ParseCapability("can-fly")
	assert.Error(t, err)

	status, err := ParseOfferStatus("expired")
	require.NoError(t, err)
	assert.Equal(t, OfferStatusExpired, status)
}

func TestOutboxEnums(t *testing.T) {
	for _, evt := range validOutboxEventTypes {
		parsed, err := ParseOutboxEventType(string(evt))
		require.NoError(t, err)
		assert.Equal(t, evt, parsed)
	}
	assert.False(t, OutboxEventType("order_created").IsValid())
	assert.True(t, OutboxDLQReasonNonRetryable.IsValid())
	assert.False(t, OutboxDLQErrorReason("other").IsValid())
}
