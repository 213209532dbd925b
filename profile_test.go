package main

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fingerprintResponse struct {
	HTTPVersion string `json:"http_version"`
	UserAgent   string `json:"user_agent"`
	TLS         struct {
		Ciphers       []string `json:"ciphers"`
		JA4           string   `json:"ja4"`
		PeetprintHash string   `json:"peetprint_hash"`
	} `json:"tls"`
	HTTP2 struct {
		AkamaiFingerprint     string `json:"akamai_fingerprint"`
		AkamaiFingerprintHash string `json:"akamai_fingerprint_hash"`
	} `json:"http2"`
}

func loadExpectedFingerprint(t *testing.T, filename string) fingerprintResponse {
	t.Helper()
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read fingerprint file %s: %v", filename, err)
	}
	var fp fingerprintResponse
	if err := json.Unmarshal(data, &fp); err != nil {
		t.Fatalf("failed to parse fingerprint file: %v", err)
	}
	return fp
}

func fetchFingerprint(t *testing.T, client httpDoer, profile *BrowserProfile) fingerprintResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://tls.peet.ws/api/all", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	var h OrderedHeaders
	h.Set("sec-ch-ua", profile.SecChUa)
	h.Set("sec-ch-ua-mobile", profile.Mobile)
	h.Set("sec-ch-ua-platform", profile.Platform)
	h.Set("upgrade-insecure-requests", "1")
	h.Set("user-agent", profile.UserAgent)
	h.Set("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("sec-fetch-site", "none")
	h.Set("sec-fetch-mode", "navigate")
	h.Set("sec-fetch-dest", "document")
	h.Set("accept-encoding", profile.AcceptEncoding)
	h.Set("accept-language", profile.AcceptLanguage)
	req.Header = h.toFHTTP()

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	body, err := readResponseBody(resp)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var fp fingerprintResponse
	if err := json.Unmarshal(body, &fp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return fp
}

func normalizeCiphers(ciphers []string) []string {
	var result []string
	for _, c := range ciphers {
		if !strings.HasPrefix(c, "TLS_GREASE") {
			result = append(result, c)
		}
	}
	return result
}

// TestClientFingerprint compares the live fingerprint against a capture from
// a real Chrome 143. It needs network access and the capture file.
func TestClientFingerprint(t *testing.T) {
	const fingerprintFile = "chrome_143_fingerprint.json"
	if _, err := os.Stat(fingerprintFile); os.IsNotExist(err) {
		t.Skipf("fingerprint file %s not found, skipping", fingerprintFile)
	}

	expected := loadExpectedFingerprint(t, fingerprintFile)

	client, err := NewClient(nil, Chrome143Profile, "", 0)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	// Second request resumes with PSK, which is what the site sees after the first call.
	_ = fetchFingerprint(t, client, Chrome143Profile)
	actual := fetchFingerprint(t, client, Chrome143Profile)

	if actual.HTTP2.AkamaiFingerprint != expected.HTTP2.AkamaiFingerprint {
		t.Errorf("akamai fingerprint mismatch\ngot:  %s\nwant: %s",
			actual.HTTP2.AkamaiFingerprint, expected.HTTP2.AkamaiFingerprint)
	}
	if actual.TLS.JA4 != expected.TLS.JA4 {
		t.Errorf("JA4 fingerprint mismatch\ngot:  %s\nwant: %s", actual.TLS.JA4, expected.TLS.JA4)
	}
	if actual.TLS.PeetprintHash != expected.TLS.PeetprintHash {
		t.Errorf("peetprint hash mismatch\ngot:  %s\nwant: %s", actual.TLS.PeetprintHash, expected.TLS.PeetprintHash)
	}

	actualCiphers := normalizeCiphers(actual.TLS.Ciphers)
	expectedCiphers := normalizeCiphers(expected.TLS.Ciphers)
	if len(actualCiphers) != len(expectedCiphers) {
		t.Fatalf("cipher count mismatch\ngot:  %d\nwant: %d", len(actualCiphers), len(expectedCiphers))
	}
	for i, cipher := range actualCiphers {
		if cipher != expectedCiphers[i] {
			t.Errorf("cipher mismatch at index %d\ngot:  %s\nwant: %s", i, cipher, expectedCiphers[i])
		}
	}
}

func TestLookupProfile(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		p, err := LookupProfile("")
		require.NoError(t, err)
		assert.Same(t, Chrome143Profile, p)

		p, err = LookupProfile("chrome143")
		require.NoError(t, err)
		assert.Same(t, Chrome143Profile, p)
	})

	t.Run("mapped chrome profile", func(t *testing.T) {
		p, err := LookupProfile("chrome_133")
		require.NoError(t, err)
		assert.Equal(t, "chrome_133", p.Name)
		assert.Contains(t, p.UserAgent, "Chrome/133.0.0.0")
		assert.Contains(t, p.SecChUa, `"Chromium";v="133"`)
		assert.Equal(t, defaultAcceptLanguage, p.AcceptLanguage)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := LookupProfile("netscape_4")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chrome143")
	})

	t.Run("non chrome mapped profile", func(t *testing.T) {
		_, err := LookupProfile("firefox_120")
		require.Error(t, err)
	})
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(nil, nil, "", 0)
	require.NoError(t, err)
	require.NotNil(t, client)

	client, err = NewClient(nil, Chrome143Profile, "http://127.0.0.1:8080", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", client.GetProxy())
}
