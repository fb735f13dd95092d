package utils

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret"
	testBaseURL = "https://track.example.com"
)

func TestTrackingTokenRoundTrip(t *testing.T) {
	token := trackingToken(testSecret, "msg-1")
	assert.True(t, ValidTrackingToken(testSecret, "msg-1", token))
	assert.False(t, ValidTrackingToken(testSecret, "msg-2", token))
	assert.False(t, ValidTrackingToken("other-secret", "msg-1", token))
	assert.False(t, ValidTrackingToken(testSecret, "msg-1", "forged"))
}

func TestGenerateTrackingURLs(t *testing.T) {
	pixel := GenerateTrackingPixelURL(testBaseURL, testSecret, "msg-1")
	assert.True(t, strings.HasPrefix(pixel, testBaseURL+"/track/open/msg-1/"))

	click := GenerateClickTrackURL(testBaseURL, testSecret, "msg-1", "https://example.com/pricing?ref=a&b=c")
	u, err := url.Parse(click)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/pricing?ref=a&b=c", u.Query().Get("url"))

	parts := strings.Split(u.Path, "/")
	token := parts[len(parts)-1]
	assert.True(t, ValidTrackingToken(testSecret, "msg-1", token))
}

func TestInjectTracking(t *testing.T) {
	body := `<p>See <a href="https://example.com/pricing">pricing</a> today</p>`
	out := InjectTracking(body, testBaseURL, testSecret, "msg-1")

	// The original link is rewritten through the click redirect.
	assert.NotContains(t, out, `href="https://example.com/pricing"`)
	assert.Contains(t, out, testBaseURL+"/track/click/msg-1/")
	assert.Contains(t, out, url.QueryEscape("https://example.com/pricing"))

	// The open pixel lands at the end.
	assert.Contains(t, out, testBaseURL+"/track/open/msg-1/")
	assert.True(t, strings.HasSuffix(out, `style="display:none">`))
}

func TestInjectTrackingRewritesEveryLink(t *testing.T) {
	body := `<a href="https://a.example">a</a><a href="https://b.example">b</a>`
	out := InjectTracking(body, testBaseURL, testSecret, "msg-9")

	assert.Equal(t, 2, strings.Count(out, "/track/click/msg-9/"))
	assert.NotContains(t, out, `href="https://a.example"`)
	assert.NotContains(t, out, `href="https://b.example"`)
}

func TestInjectTrackingWithoutLinks(t *testing.T) {
	out := InjectTracking("<p>plain</p>", testBaseURL, testSecret, "msg-2")
	assert.True(t, strings.HasPrefix(out, "<p>plain</p>"))
	assert.Contains(t, out, "/track/open/msg-2/")
}
