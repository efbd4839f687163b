package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorr/gmond/internal/config"
)

func TestValidateRejectsDeafAndMute(t *testing.T) {
	cfg := &config.Config{Behavior: config.Behavior{Deaf: true, Mute: true}}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsDeafXorMute(t *testing.T) {
	cfg := &config.Config{Behavior: config.Behavior{Deaf: true}}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsMalformedAllowMask(t *testing.T) {
	cfg := &config.Config{
		UDPRecvChannel: []config.UDPRecvChannel{{Port: 8649, AllowIP: "10.0.0.0", AllowMask: "not-a-mask"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestAllowSubnetBareHostAddress(t *testing.T) {
	subnet, err := config.AllowSubnet("10.0.0.5", "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", subnet)
}

func TestAllowSubnetWithDottedMask(t *testing.T) {
	subnet, err := config.AllowSubnet("10.0.0.0", "255.255.255.0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", subnet)
}

func TestAllowSubnetAlreadyCIDR(t *testing.T) {
	subnet, err := config.AllowSubnet("10.0.0.0/16", "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/16", subnet)
}

func TestAllowSubnetEmptyWhenUnconfigured(t *testing.T) {
	subnet, err := config.AllowSubnet("", "")
	require.NoError(t, err)
	assert.Equal(t, "", subnet)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}
