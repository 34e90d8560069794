package llm

import (
	goerrors "errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeProviderError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "html error page",
			err:  goerrors.New("unexpected response: <!DOCTYPE html><html><body>502 Bad Gateway</body></html>"),
			want: errCategoryHTML,
		},
		{
			name: "unauthorized",
			err:  goerrors.New("request failed: 401 Unauthorized"),
			want: errCategoryAuth,
		},
		{
			name: "bad api key",
			err:  goerrors.New("invalid x-api-key header"),
			want: errCategoryAuth,
		},
		{
			name: "rate limited",
			err:  goerrors.New("429 Too Many Requests"),
			want: errCategoryRateLimited,
		},
		{
			name: "quota exhausted",
			err:  goerrors.New("resource quota exceeded for project"),
			want: errCategoryRateLimited,
		},
		{
			name: "timeout",
			err:  goerrors.New("context deadline exceeded"),
			want: errCategoryTimeout,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeProviderError(tc.err))
		})
	}
}

func TestNormalizeProviderErrorCollapsesAndCaps(t *testing.T) {
	long := strings.Repeat("word  \n\t ", 100)
	got := normalizeProviderError(goerrors.New(long))
	assert.LessOrEqual(t, len(got), 200)
	assert.NotContains(t, got, "\n")
	assert.NotContains(t, got, "  ")
}

func TestNormalizeProviderErrorCapsAtRuneBoundary(t *testing.T) {
	// Three-byte runes: 200 bytes lands mid-rune, so the cap must back
	// off instead of emitting a broken trailing sequence.
	got := normalizeProviderError(goerrors.New(strings.Repeat("✗", 100)))
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, utf8.ValidString(got))
}

func TestNormalizeProviderErrorNil(t *testing.T) {
	assert.Equal(t, "", normalizeProviderError(nil))
}
