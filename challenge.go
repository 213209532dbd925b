package main

import "strings"

// IsCloudflareChallenge detects Cloudflare's managed challenge page.
func IsCloudflareChallenge(statusCode int, header map[string][]string, body string) bool {
	for _, v := range header["Cf-Mitigated"] {
		if strings.EqualFold(v, "challenge") {
			return true
		}
	}
	if statusCode != 403 && statusCode != 503 {
		return false
	}
	return strings.Contains(body, "<title>Just a moment...</title>") ||
		strings.Contains(body, "/cdn-cgi/challenge-platform/")
}

// IsDataDomeChallenge detects a DataDome block, either the HTML interstitial
// or the JSON form API calls receive ({"url": "https://geo.captcha-delivery.com/..."}).
func IsDataDomeChallenge(statusCode int, body string) bool {
	return statusCode == 403 && strings.Contains(body, "captcha-delivery.com")
}

// IsBotChallenge reports whether resp is an anti-automation interstitial
// rather than an answer from the API itself.
func IsBotChallenge(resp *Response) bool {
	if resp == nil {
		return false
	}
	body := resp.Text()
	return IsCloudflareChallenge(resp.StatusCode, resp.Header, body) ||
		IsDataDomeChallenge(resp.StatusCode, body)
}
