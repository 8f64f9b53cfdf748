package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBaseSurface(t *testing.T) {
	s := New("com.app.appname")
	assert.Equal(t, "mobileapp://com.app.appname", s.URI())
	assert.True(t, s.Valid())
}

func TestNewWithPath(t *testing.T) {
	tests := []struct {
		name     string
		appID    string
		path     []string
		wantURI  string
		wantGood bool
	}{
		{"single_segment", "com.app.appname", []string{"promos"}, "mobileapp://com.app.appname/promos", true},
		{"nested_segment", "com.app.appname", []string{"feeds/apifeed"}, "mobileapp://com.app.appname/feeds/apifeed", true},
		{"leading_slash_trimmed", "com.app.appname", []string{"/promos/"}, "mobileapp://com.app.appname/promos", true},
		{"empty_segment_skipped", "com.app.appname", []string{""}, "mobileapp://com.app.appname", true},
		{"invalid_characters", "com.app.appname", []string{"pro mos"}, "mobileapp://com.app.appname/pro mos", false},
		{"hash_character", "com.app.appname", []string{"promos#1"}, "mobileapp://com.app.appname/promos#1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.appID, tt.path...)
			assert.Equal(t, tt.wantURI, s.URI())
			assert.Equal(t, tt.wantGood, s.Valid())
		})
	}
}

func TestNewMissingAppID(t *testing.T) {
	s := New("")
	assert.Equal(t, "unknown", s.URI())
	assert.False(t, s.Valid())
}

func TestFromURI(t *testing.T) {
	s := FromURI("mobileapp://com.app.appname/promos")
	assert.True(t, s.Valid())
	assert.Equal(t, "mobileapp://com.app.appname/promos", s.URI())

	assert.False(t, FromURI("").Valid())
	assert.False(t, FromURI("unknown").Valid())
	assert.False(t, FromURI("https://example.com").Valid())
	assert.False(t, FromURI("mobileapp://com.app/has space").Valid())
}

func TestEqualAndHash(t *testing.T) {
	a := New("com.app.appname", "promos")
	b := FromURI("mobileapp://com.app.appname/promos")
	c := New("com.app.appname")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 16)
}
