package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Tracking URLs embed a token derived from the message id and a server-side
// secret, so open/click hits can be validated without a database lookup.

func trackingToken(secret, messageID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:20]
}

// ValidTrackingToken reports whether token was issued for messageID.
func ValidTrackingToken(secret, messageID, token string) bool {
	return hmac.Equal([]byte(trackingToken(secret, messageID)), []byte(token))
}

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens.
func GenerateTrackingPixelURL(baseURL, secret, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, url.PathEscape(messageID), trackingToken(secret, messageID))
}

// GenerateClickTrackURL generates a tracked URL for links.
func GenerateClickTrackURL(baseURL, secret, messageID, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s",
		baseURL, url.PathEscape(messageID), trackingToken(secret, messageID), url.QueryEscape(originalURL))
}

// InjectTracking rewrites links through the click redirect and appends an
// open-tracking pixel to the email body.
func InjectTracking(htmlContent, baseURL, secret, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, secret, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	return injectClickTracking(htmlContent, baseURL, secret, messageID) + trackingPixel
}

func injectClickTracking(html, baseURL, secret, messageID string) string {
	const startTag = `<a href="`
	const endTag = `"`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, secret, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
