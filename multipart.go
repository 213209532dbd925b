package main

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"mime/multipart"
	"net/textproto"
	"strings"
)

const (
	boundaryPrefix       = "----WebKitFormBoundary"
	boundaryRandomLength = 16
	maxBoundaryAttempts  = 8

	defaultUploadFileName = "blob"
	defaultUploadMimeType = "application/octet-stream"
	uploadFieldName       = "file"
)

var charsetAlphanumeric = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// AssetUploadPayload is one file destined for the upload endpoint.
type AssetUploadPayload struct {
	FileBytes []byte
	FileName  string
	MimeType  string
}

// randomString returns length characters drawn from charset.
func randomString(length int, charset []rune) string {
	buf := make([]rune, length)
	for i := range buf {
		buf[i] = charset[rand.IntN(len(charset))]
	}
	return string(buf)
}

// newWebKitBoundary returns a boundary in the shape Chrome generates.
func newWebKitBoundary() string {
	return boundaryPrefix + randomString(boundaryRandomLength, charsetAlphanumeric)
}

// EncodeMultipart renders payload as a single-part multipart/form-data body
// under the field name "file". The boundary never occurs inside the file.
func EncodeMultipart(payload *AssetUploadPayload) ([]byte, string, error) {
	return encodeMultipart(payload, newWebKitBoundary)
}

func encodeMultipart(payload *AssetUploadPayload, nextBoundary func() string) ([]byte, string, error) {
	boundary := ""
	for range maxBoundaryAttempts {
		candidate := nextBoundary()
		if !bytes.Contains(payload.FileBytes, []byte(candidate)) {
			boundary = candidate
			break
		}
	}
	if boundary == "" {
		return nil, "", fmt.Errorf("could not pick a multipart boundary absent from the file after %d attempts", maxBoundaryAttempts)
	}

	fileName := payload.FileName
	if fileName == "" {
		fileName = defaultUploadFileName
	}
	mimeType := payload.MimeType
	if mimeType == "" {
		mimeType = defaultUploadMimeType
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("set multipart boundary: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadFieldName, quoteEscaper.Replace(fileName)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(payload.FileBytes); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	return buf.Bytes(), boundary, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
