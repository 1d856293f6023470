package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathFilterKeep(t *testing.T) {
	f := NewPathFilter(
		[]string{"/product*", "/pricing*", "/about*"},
		[]string{"/blog*", "/legal*", "/tag/*"},
	)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://acme.com/", true},
		{"https://acme.com", true},
		{"https://acme.com/pricing", true},
		{"https://acme.com/products/widget", true},
		{"https://acme.com/About-Us", true},
		{"https://acme.com/blog/2026/launch", false},
		{"https://acme.com/legal/terms", false},
		{"https://acme.com/tag/plumbing", false},
		{"https://acme.com/tag/deeply/nested", false},
		{"https://acme.com/careers", false}, // not excluded, but matches no include
		{"://bad url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Keep(tt.url))
		})
	}
}

func TestPathFilterNoIncludesKeepsEverythingNotExcluded(t *testing.T) {
	f := NewPathFilter(nil, []string{"/blog/*"})
	assert.True(t, f.Keep("https://acme.com/anything"))
	assert.False(t, f.Keep("https://acme.com/blog/post"))
}

func TestPathFilterSelect(t *testing.T) {
	f := NewPathFilter([]string{"/pricing*"}, nil)
	in := []PageRef{
		{URL: "https://acme.com/pricing", Title: "Pricing"},
		{URL: "https://acme.com/careers", Title: "Careers"},
		{URL: "https://acme.com/", Title: "Home"},
	}
	got := f.Select(in)
	assert.Equal(t, []PageRef{in[0], in[2]}, got)
}
