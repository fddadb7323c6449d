package browserpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchContext_Extend_StoresAndRetrievesArbitraryOptions(t *testing.T) {
	lc := &LaunchContext{}
	require.NoError(t, lc.Extend("ignoreHTTPSErrors", true))

	v, ok := lc.Extra("ignoreHTTPSErrors")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestLaunchContext_Extend_RejectsReservedKeys(t *testing.T) {
	lc := &LaunchContext{}
	for _, key := range []string{"proxyUrl", "sessionId", "userDataDir"} {
		err := lc.Extend(key, "x")
		assert.Error(t, err, "key %q must be reserved", key)
	}
}

func TestLaunchContext_Extra_MissingKeyReturnsFalse(t *testing.T) {
	lc := &LaunchContext{}
	_, ok := lc.Extra("never-set")
	assert.False(t, ok)
}
