package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Credential keys inside the per-invocation configuration JSON.
const (
	credentialKeyAuthorization = "authorization"
	credentialKeySession       = "s"
	credentialKeyTimestamp     = "t"
	credentialKeyUser          = "u"
)

// SessionCredentials stands in for a logged-in browser session. The three
// session identifiers are only meaningful together.
type SessionCredentials struct {
	AuthorizationToken string
	SessionID          string
	Timestamp          string
	UserID             string
}

// ParseCredentials extracts the four required credential fields from an
// unstructured configuration value: a decoded JSON object or JSON text.
func ParseCredentials(raw any) (SessionCredentials, error) {
	obj, err := credentialObject(raw)
	if err != nil {
		return SessionCredentials{}, err
	}

	var creds SessionCredentials
	fields := []struct {
		key string
		dst *string
	}{
		{credentialKeyAuthorization, &creds.AuthorizationToken},
		{credentialKeySession, &creds.SessionID},
		{credentialKeyTimestamp, &creds.Timestamp},
		{credentialKeyUser, &creds.UserID},
	}

	for _, f := range fields {
		v, ok := obj[f.key]
		if !ok || v == nil {
			return SessionCredentials{}, &ConfigurationError{Field: f.key, Reason: "is missing"}
		}
		s, ok := v.(string)
		if !ok {
			return SessionCredentials{}, &ConfigurationError{Field: f.key, Reason: fmt.Sprintf("must be a string, got %T", v)}
		}
		if strings.TrimSpace(s) == "" {
			return SessionCredentials{}, &ConfigurationError{Field: f.key, Reason: "is empty"}
		}
		*f.dst = s
	}

	return creds, nil
}

func credentialObject(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, &ConfigurationError{Reason: "configuration is missing"}
	case map[string]any:
		return v, nil
	case map[string]string:
		obj := make(map[string]any, len(v))
		for k, s := range v {
			obj[k] = s
		}
		return obj, nil
	case string:
		return decodeCredentialJSON([]byte(v))
	case []byte:
		return decodeCredentialJSON(v)
	case json.RawMessage:
		return decodeCredentialJSON(v)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("configuration must be a JSON object, got %T", raw)}
	}
}

func decodeCredentialJSON(data []byte) (map[string]any, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, &ConfigurationError{Reason: "configuration is empty"}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("configuration is not a JSON object: %v", err)}
	}
	if obj == nil {
		return nil, &ConfigurationError{Reason: "configuration is null"}
	}
	return obj, nil
}

// Valid reports whether all four fields are present.
func (c SessionCredentials) Valid() bool {
	return c.AuthorizationToken != "" && c.SessionID != "" && c.Timestamp != "" && c.UserID != ""
}

// CookieHeader renders the session identifiers the way the site's cookie jar holds them.
func (c SessionCredentials) CookieHeader() string {
	return fmt.Sprintf("s=%s; t=%s; u=%s", c.SessionID, c.Timestamp, c.UserID)
}

// String never prints the token.
func (c SessionCredentials) String() string {
	return fmt.Sprintf("SessionCredentials{u=%s, authorization=<redacted>}", c.UserID)
}
