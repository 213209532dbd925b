package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserProfile bundles a TLS client profile with the headers the matching
// browser sends. Every outbound request takes its header values from here.
type BrowserProfile struct {
	Name            string
	TLSProfile      profiles.ClientProfile
	UserAgent       string
	SecChUa         string
	FullVersionList string
	Platform        string
	Mobile          string
	AcceptLanguage  string
	AcceptEncoding  string
}

// DefaultProfile is used when no profile is configured.
var DefaultProfile = Chrome143Profile

const (
	defaultAcceptLanguage = "en-US,en;q=0.9"
	defaultAcceptEncoding = "gzip, deflate, br, zstd"
)

// LookupProfile resolves a profile name. "chrome143" is the bundled
// fingerprint; any chrome_* name known to tls-client is accepted as well and
// gets Chrome headers for the same major version.
func LookupProfile(name string) (*BrowserProfile, error) {
	if name == "" || name == Chrome143Profile.Name {
		return Chrome143Profile, nil
	}

	tlsProfile, ok := profiles.MappedTLSClients[name]
	if !ok || !strings.HasPrefix(name, "chrome_") {
		return nil, fmt.Errorf("unknown browser profile %q (known: %s)", name, strings.Join(knownProfileNames(), ", "))
	}

	major := strings.SplitN(strings.TrimPrefix(name, "chrome_"), "_", 2)[0]
	return &BrowserProfile{
		Name:            name,
		TLSProfile:      tlsProfile,
		UserAgent:       fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", major),
		SecChUa:         fmt.Sprintf(`"Google Chrome";v="%s", "Chromium";v="%s", "Not A(Brand";v="24"`, major, major),
		FullVersionList: fmt.Sprintf(`"Google Chrome";v="%s.0.0.0", "Chromium";v="%s.0.0.0", "Not A(Brand";v="24.0.0.0"`, major, major),
		Platform:        `"Windows"`,
		Mobile:          "?0",
		AcceptLanguage:  defaultAcceptLanguage,
		AcceptEncoding:  defaultAcceptEncoding,
	}, nil
}

func knownProfileNames() []string {
	names := []string{Chrome143Profile.Name}
	for name := range profiles.MappedTLSClients {
		if strings.HasPrefix(name, "chrome_") {
			names = append(names, name)
		}
	}
	sort.Strings(names[1:])
	return names
}

// NewClient builds a tls-client HTTP client for the profile. No cookie jar is
// attached: the session cookie header is supplied per request and nothing
// received from the server may leak into later calls.
func NewClient(logger tls_client.Logger, profile *BrowserProfile, proxyURL string, timeout time.Duration) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}
	if profile == nil {
		profile = DefaultProfile
	}
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 30
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(seconds),
		tls_client.WithClientProfile(profile.TLSProfile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
