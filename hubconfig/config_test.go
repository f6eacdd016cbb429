package hubconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsZeroTTL(t *testing.T) {
	c := DefaultConfig()
	c.DefaultTTL = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveCapacity(t *testing.T) {
	c := DefaultConfig()
	c.HistoryCapacity = 0
	assert.Error(t, c.Validate())
}

func TestIsTrustedSender(t *testing.T) {
	c := DefaultConfig()
	c.TrustedSenders["@ben"] = struct{}{}
	assert.True(t, c.IsTrustedSender("@ben"))
	assert.False(t, c.IsTrustedSender("@lea"))
}
