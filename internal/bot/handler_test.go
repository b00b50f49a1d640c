package bot

import (
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"unfurl/internal/domain"
)

func TestFindURL(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"look at https://example.com/a?b=1 please", "https://example.com/a?b=1", true},
		{"(https://example.com/x).", "https://example.com/x", true},
		{"ftp://example.com/file http://second.example", "http://second.example", true},
		{"no links here", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := findURL(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestFormatPreview(t *testing.T) {
	canonical, _ := url.Parse("https://example.com/canonical")
	m := domain.Metadata{
		Title:        domain.String("Title"),
		Description:  domain.String("Desc"),
		SiteName:     domain.String("Example"),
		CanonicalURL: canonical,
	}
	assert.Equal(t, "Title\nDesc\nExample | https://example.com/canonical", formatPreview(m, "https://example.com/a"))

	assert.Equal(t, "https://example.com/a", formatPreview(domain.Metadata{}, "https://example.com/a"))
}

func TestFormatPreview_Truncates(t *testing.T) {
	m := domain.Metadata{Description: domain.String(strings.Repeat("é", 2000))}
	out := formatPreview(m, "https://example.com")
	assert.Equal(t, captionLimit, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
}
