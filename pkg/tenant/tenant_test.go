package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyerDisabledPassesThrough(t *testing.T) {
	k := Keyer{}
	assert.Equal(t, "asdlc:events", k.Stream("acme"))
	assert.Equal(t, "some:key", k.Key("acme", "some:key"))
	assert.Empty(t, k.Resolve("acme"))
}

func TestKeyerEnabledPrefixes(t *testing.T) {
	k := Keyer{Enabled: true, Default: "default"}
	assert.Equal(t, "tenant:acme:asdlc:events", k.Stream("acme"))
	assert.Equal(t, "tenant:acme:some:key", k.Key("acme", "some:key"))
}

func TestKeyerEnabledFallsBackToDefault(t *testing.T) {
	k := Keyer{Enabled: true, Default: "shared"}
	assert.Equal(t, "tenant:shared:asdlc:events", k.Stream(""))
	assert.Equal(t, "shared", k.Resolve(""))
}

func TestKeyerEnabledNoDefaultLeavesBare(t *testing.T) {
	k := Keyer{Enabled: true}
	assert.Equal(t, "asdlc:events", k.Stream(""))
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "asdlc:events", StreamName(""))
	assert.Equal(t, "tenant:acme:asdlc:events", StreamName("acme"))
}

func TestTenantsAreDisjoint(t *testing.T) {
	k := Keyer{Enabled: true}
	assert.NotEqual(t, k.Stream("acme"), k.Stream("widgets"))
	assert.NotEqual(t, k.Key("acme", "asdlc:worker:processed:x"), k.Key("widgets", "asdlc:worker:processed:x"))
}
