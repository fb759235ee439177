package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitingVerifyPerOperationOverrides(t *testing.T) {
	rl := RateLimiting{
		Enabled:   true,
		Threshold: 5,
		Cooloff:   500,
		PerOperationOverrides: map[string]RateLimitOverride{
			"mutate": {Threshold: -1, Cooloff: 100},
		},
	}

	var errs ConfigErrors
	rl.Verify(&errs)

	assert.Contains(t, errs, "rate_limiting.per_operation_overrides.mutate: both 'threshold' and 'cooloff' must be positive")
}

func TestRateLimitingVerifyExemptIPAddresses(t *testing.T) {
	rl := RateLimiting{Enabled: true, Threshold: 5, Cooloff: 500, ExemptIPAddresses: []string{"127.0.0.1", "192.168.1.0/24"}}
	var errs ConfigErrors
	rl.Verify(&errs)
	assert.Empty(t, errs)
}

func TestRateLimitingVerifyExemptIPAddressesInvalid(t *testing.T) {
	rl := RateLimiting{Enabled: true, Threshold: 5, Cooloff: 500, ExemptIPAddresses: []string{"not-an-ip"}}
	var errs ConfigErrors
	rl.Verify(&errs)
	assert.Contains(t, errs, `invalid IP address or CIDR for rate_limiting.exempt_ip_addresses: not-an-ip`)
}

func TestGlobalDatabasePath(t *testing.T) {
	g := Global{AppKey: "my-app", DataDir: "/tmp/discret"}
	path := g.DatabasePath()
	assert.Contains(t, path, "/tmp/discret/")
	assert.Contains(t, path, ".db")
}

func TestGlobalVerifyRequiresAppKeyAndDataDir(t *testing.T) {
	g := Global{}
	var errs ConfigErrors
	g.Verify(&errs)
	assert.NotEmpty(t, errs)
}
