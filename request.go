package main

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultBaseURL = "https://viggle.ai"

	assetListPath   = "/api/asset/list"
	assetUploadPath = "/api/asset/upload"

	maxPageSize = 100
)

// RequestDescription is a fully shaped outbound request. It is built once
// per call and not modified afterwards.
type RequestDescription struct {
	Method  string
	URL     string
	Headers OrderedHeaders
	Body    []byte
}

// Path returns the URL path, for log lines.
func (r *RequestDescription) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	return u.Path
}

// Origin returns scheme://host of the request URL.
func (r *RequestDescription) Origin() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// RequestBuilder turns credentials and operation input into requests shaped
// like the site's own front-end calls.
type RequestBuilder struct {
	BaseURL string
	Profile *BrowserProfile
}

// NewRequestBuilder returns a builder for baseURL, defaulting to the public site.
func NewRequestBuilder(baseURL string, profile *BrowserProfile) *RequestBuilder {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if profile == nil {
		profile = DefaultProfile
	}
	return &RequestBuilder{BaseURL: strings.TrimRight(baseURL, "/"), Profile: profile}
}

// BuildListAssetsRequest builds the paginated asset listing call.
func (b *RequestBuilder) BuildListAssetsRequest(creds SessionCredentials, page, pageSize int) (*RequestDescription, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, newValidationError("page", "page must be at least 1, got %d", page)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return nil, newValidationError("pageSize", "pageSize must be between 1 and %d, got %d", maxPageSize, pageSize)
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))

	return &RequestDescription{
		Method:  "GET",
		URL:     b.BaseURL + assetListPath + "?" + query.Encode(),
		Headers: b.authenticatedHeaders(creds, ""),
	}, nil
}

// BuildUploadAssetRequest builds the multipart image upload call.
func (b *RequestBuilder) BuildUploadAssetRequest(creds SessionCredentials, payload *AssetUploadPayload) (*RequestDescription, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, newValidationError("binaryPropertyName", "no binary data to upload")
	}

	body, boundary, err := EncodeMultipart(payload)
	if err != nil {
		return nil, err
	}

	return &RequestDescription{
		Method:  "POST",
		URL:     b.BaseURL + assetUploadPath,
		Headers: b.authenticatedHeaders(creds, "multipart/form-data; boundary="+boundary),
		Body:    body,
	}, nil
}

// authenticatedHeaders is the header block the site's front-end sends on
// API calls, in the same order. contentType is omitted when empty.
func (b *RequestBuilder) authenticatedHeaders(creds SessionCredentials, contentType string) OrderedHeaders {
	p := b.Profile
	h := make(OrderedHeaders, 0, 19)
	h.Set("authorization", creds.AuthorizationToken)
	h.Set("s", creds.SessionID)
	h.Set("t", creds.Timestamp)
	h.Set("u", creds.UserID)
	h.Set("cookie", creds.CookieHeader())
	h.Set("accept", "application/json, text/plain, */*")
	h.Set("accept-language", p.AcceptLanguage)
	h.Set("accept-encoding", p.AcceptEncoding)
	if contentType != "" {
		h.Set("content-type", contentType)
	}
	h.Set("user-agent", p.UserAgent)
	h.Set("sec-ch-ua", p.SecChUa)
	h.Set("sec-ch-ua-mobile", p.Mobile)
	h.Set("sec-ch-ua-platform", p.Platform)
	h.Set("origin", b.BaseURL)
	h.Set("referer", b.BaseURL+"/create")
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-origin")
	h.Set("priority", "u=1, i")
	return h
}

func checkCredentials(creds SessionCredentials) error {
	if creds.Valid() {
		return nil
	}
	return &ConfigurationError{Reason: "session credentials are incomplete"}
}
