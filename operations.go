package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Operation names exposed to the host.
const (
	OpGenerateAnimation = "generateAnimation"
	OpGetImageList      = "getImageList"
	OpUploadImage       = "uploadImageToViggle"
)

const (
	InputTypeText  = "text"
	InputTypeImage = "image"

	imageDataPrefix = "data:image"
)

// ParameterSpec describes one node parameter as the host renders it.
type ParameterSpec struct {
	Name        string              `json:"name"`
	DisplayName string              `json:"displayName"`
	Type        string              `json:"type"`
	Default     any                 `json:"default"`
	Required    bool                `json:"required,omitempty"`
	Description string              `json:"description,omitempty"`
	Options     []OptionSpec        `json:"options,omitempty"`
	ShowWhen    map[string][]string `json:"displayOptions,omitempty"`
}

type OptionSpec struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Schema is the node description. Each node version exposes a subset of
// the operations; parameters are shared across versions.
type Schema struct {
	Name       string           `json:"name"`
	Versions   map[int][]string `json:"versions"`
	Parameters []ParameterSpec  `json:"properties"`
}

// NodeSchema is the single schema for every version of the node.
var NodeSchema = Schema{
	Name: "viggle",
	Versions: map[int][]string{
		1: {OpGenerateAnimation},
		2: {OpGenerateAnimation, OpGetImageList, OpUploadImage},
	},
	Parameters: []ParameterSpec{
		{
			Name: "operation", DisplayName: "Operation", Type: "options", Default: OpGenerateAnimation,
			Options: []OptionSpec{
				{Name: "Generate Animation", Value: OpGenerateAnimation, Description: "Generate animation from text or image"},
				{Name: "Get Image List", Value: OpGetImageList, Description: "List images in the account"},
				{Name: "Upload Image", Value: OpUploadImage, Description: "Upload an image from a binary property"},
			},
		},
		{
			Name: "configJson", DisplayName: "Session Configuration", Type: "json", Default: "{}", Required: true,
			Description: "Logged-in session values: authorization, s, t, u",
			ShowWhen:    map[string][]string{"operation": {OpGetImageList, OpUploadImage}},
		},
		{
			Name: "inputType", DisplayName: "Input Type", Type: "options", Default: InputTypeText,
			Options:  []OptionSpec{{Name: "Text", Value: InputTypeText}, {Name: "Image", Value: InputTypeImage}},
			ShowWhen: map[string][]string{"operation": {OpGenerateAnimation}},
		},
		{
			Name: "textInput", DisplayName: "Text Input", Type: "string", Default: "", Required: true,
			Description: "Text description for animation generation",
			ShowWhen:    map[string][]string{"operation": {OpGenerateAnimation}, "inputType": {InputTypeText}},
		},
		{
			Name: "imageInput", DisplayName: "Image Input", Type: "string", Default: "", Required: true,
			Description: "Base64 encoded image for animation generation",
			ShowWhen:    map[string][]string{"operation": {OpGenerateAnimation}, "inputType": {InputTypeImage}},
		},
		{
			Name: "page", DisplayName: "Page", Type: "number", Default: 1,
			ShowWhen: map[string][]string{"operation": {OpGetImageList}},
		},
		{
			Name: "pageSize", DisplayName: "Page Size", Type: "number", Default: 20,
			Description: fmt.Sprintf("Between 1 and %d", maxPageSize),
			ShowWhen:    map[string][]string{"operation": {OpGetImageList}},
		},
		{
			Name: "binaryPropertyName", DisplayName: "Binary Property", Type: "string", Default: "data", Required: true,
			Description: "Name of the binary property holding the image",
			ShowWhen:    map[string][]string{"operation": {OpUploadImage}},
		},
	},
}

// LatestNodeVersion is used when a workflow does not pin one.
const LatestNodeVersion = 2

// Supports reports whether op is available in version.
func (s Schema) Supports(version int, op string) bool {
	return slices.Contains(s.Versions[version], op)
}

// Parameter returns the definition of name.
func (s Schema) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Default returns the declared default for name, or nil.
func (s Schema) Default(name string) any {
	p, ok := s.Parameter(name)
	if !ok {
		return nil
	}
	return p.Default
}

// =============================================================================
// Animation generation
// =============================================================================

// AnimationRequest is validated generation input.
type AnimationRequest struct {
	InputType string
	Input     string
}

// AnimationGenerator starts an animation job.
type AnimationGenerator interface {
	Generate(ctx context.Context, req AnimationRequest) (map[string]any, error)
}

// placeholderGenerator answers locally. The site's generation endpoint has
// not been mapped yet, so no request is sent.
type placeholderGenerator struct {
	now func() time.Time
}

func (g placeholderGenerator) Generate(ctx context.Context, req AnimationRequest) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return map[string]any{
		"status":       "success",
		"message":      "Animation generation started",
		"input_type":   req.InputType,
		"input_length": len(req.Input),
		"timestamp":    now().UTC().Format(time.RFC3339Nano),
		"placeholder":  true,
	}, nil
}

// ValidateAnimationInput checks generation input before anything is sent.
// An image input only has to carry the data:image prefix; the payload after
// it is not inspected.
func ValidateAnimationInput(inputType, input string) (AnimationRequest, error) {
	switch inputType {
	case InputTypeText:
		if strings.TrimSpace(input) == "" {
			return AnimationRequest{}, newValidationError("textInput", "Text input cannot be empty")
		}
	case InputTypeImage:
		if strings.TrimSpace(input) == "" {
			return AnimationRequest{}, newValidationError("imageInput", "Image input cannot be empty")
		}
		if !strings.HasPrefix(input, imageDataPrefix) {
			return AnimationRequest{}, newValidationError("imageInput", "Invalid image format. Must be base64 encoded image data")
		}
	default:
		return AnimationRequest{}, newValidationError("inputType", "unknown input type %q", inputType)
	}
	return AnimationRequest{InputType: inputType, Input: input}, nil
}
