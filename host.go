package main

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Host is the workflow runtime the processor runs inside. Parameters are
// resolved per item because hosts allow per-item expressions.
type Host interface {
	Items() []Item
	Parameter(name string, itemIndex int) (any, error)
	ContinueOnFail() bool
	Binary(itemIndex int, property string) (*AssetUploadPayload, error)
}

// Item is one unit of input data.
type Item struct {
	JSON   map[string]any         `json:"json"`
	Binary map[string]*BinaryData `json:"binary,omitempty"`
}

// BinaryData is a file attached to an item, base64 encoded.
type BinaryData struct {
	Data     string `json:"data"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Payload decodes the attachment. Data URLs ("data:<mime>;base64,...") are
// accepted and their MIME type used when none is set.
func (b *BinaryData) Payload() (*AssetUploadPayload, error) {
	data := b.Data
	mimeType := b.MimeType
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		meta, encoded, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("malformed data URL")
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(meta, ";base64")
		}
		data = encoded
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("binary data is not valid base64: %w", err)
	}
	return &AssetUploadPayload{FileBytes: raw, FileName: b.FileName, MimeType: mimeType}, nil
}

// binaryFromItems is the Binary lookup shared by host implementations.
func binaryFromItems(items []Item, itemIndex int, property string) (*AssetUploadPayload, error) {
	if itemIndex < 0 || itemIndex >= len(items) {
		return nil, newValidationError("binaryPropertyName", "item %d does not exist", itemIndex)
	}
	bin, ok := items[itemIndex].Binary[property]
	if !ok || bin == nil {
		return nil, newValidationError("binaryPropertyName", "no binary data property %q on item %d", property, itemIndex)
	}
	payload, err := bin.Payload()
	if err != nil {
		return nil, newValidationError("binaryPropertyName", "binary property %q: %v", property, err)
	}
	return payload, nil
}
