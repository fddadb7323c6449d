package browserpool

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestResourceTypeByName_KnownNamesResolveToTheExpectedProtocolType(t *testing.T) {
	cases := map[string]proto.NetworkResourceType{
		"Image":      proto.NetworkResourceTypeImage,
		"Stylesheet": proto.NetworkResourceTypeStylesheet,
		"Font":       proto.NetworkResourceTypeFont,
		"Media":      proto.NetworkResourceTypeMedia,
		"Script":     proto.NetworkResourceTypeScript,
	}
	for name, want := range cases {
		got, ok := resourceTypeByName[name]
		assert.True(t, ok, "expected %q to be a known resource type", name)
		assert.Equal(t, want, got)
	}
}

func TestResourceTypeByName_UnknownNameIsAbsent(t *testing.T) {
	_, ok := resourceTypeByName["XHR"]
	assert.False(t, ok)
}

func TestSetupResourceBlocking_ReturnsNilWithNoBlockedTypesConfigured(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)

	router := setupResourceBlocking(nil, c, nil)
	assert.Nil(t, router)

	router = setupResourceBlocking(nil, c, []string{"NotARealType"})
	assert.Nil(t, router, "a page argument is never reached when every configured name is unrecognized")
	assert.Equal(t, 0, c.BlockedRequests())
}
