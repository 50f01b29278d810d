package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainMatcher_Exact(t *testing.T) {
	m := NewDomainMatcher([]string{"example.com", "github.com"})

	assert.True(t, m.Matches("example.com"))
	assert.True(t, m.Matches("EXAMPLE.COM"))
	assert.True(t, m.Matches("github.com"))
	assert.False(t, m.Matches("www.example.com"))
	assert.False(t, m.Matches("notexample.com"))
}

func TestDomainMatcher_Wildcard(t *testing.T) {
	m := NewDomainMatcher([]string{"*.example.com"})

	assert.True(t, m.Matches("www.example.com"))
	assert.True(t, m.Matches("api.example.com"))
	assert.True(t, m.Matches("test.api.example.com"))
	assert.True(t, m.Matches("WWW.EXAMPLE.COM"))

	assert.False(t, m.Matches("example.com"), "wildcard must not match the bare apex")
	assert.False(t, m.Matches("notexample.com"))
	assert.False(t, m.Matches("testexample.com"))
}

func TestDomainMatcher_Mixed(t *testing.T) {
	m := NewDomainMatcher([]string{
		"example.com",
		"*.example.com",
		"*.api.example.com",
		"github.com",
	})

	assert.True(t, m.Matches("example.com"))
	assert.True(t, m.Matches("github.com"))
	assert.True(t, m.Matches("www.example.com"))
	assert.True(t, m.Matches("mail.example.com"))
	assert.True(t, m.Matches("v1.api.example.com"))
	assert.True(t, m.Matches("v2.api.example.com"))

	assert.False(t, m.Matches("www.github.com"))
	assert.False(t, m.Matches("test.com"))
}

func TestDomainMatcher_CaseInsensitiveConstruction(t *testing.T) {
	m := NewDomainMatcher([]string{"Example.Com", "*.GitHub.IO"})

	assert.True(t, m.Matches("example.com"))
	assert.True(t, m.Matches("user.github.io"))
	assert.True(t, m.Matches("USER.GITHUB.IO"))
}

func TestDomainMatcher_Empty(t *testing.T) {
	m := NewDomainMatcher(nil)

	assert.True(t, m.Empty())
	assert.False(t, m.Matches("example.com"))
}

func TestDomainMatcher_WildcardSortingDoesNotAffectResult(t *testing.T) {
	m := NewDomainMatcher([]string{
		"*.com",
		"*.example.com",
		"*.api.example.com",
	})

	assert.True(t, m.Matches("v1.api.example.com"))
	assert.True(t, m.Matches("www.example.com"))
	assert.True(t, m.Matches("test.com"))
}

func TestDomainMatcher_MalformedWildcardDropped(t *testing.T) {
	m := NewDomainMatcher([]string{"*.", "*."})
	assert.True(t, m.Empty())
}

func TestDomainMatcher_NilReceiver(t *testing.T) {
	var m *DomainMatcher
	assert.False(t, m.Matches("example.com"))
	assert.True(t, m.Empty())
}
