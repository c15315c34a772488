package protocol

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is a polymorphic segment of a tool result. Concrete block
// types implement the unexported isContentBlock marker enabling a closed set.
type ContentBlock interface{ isContentBlock() }

// TextContent is a plain text block.
type TextContent struct {
	Text string `json:"text"`
}

func (TextContent) isContentBlock() {}

// ImageContent is a base64-encoded image block.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (ImageContent) isContentBlock() {}

// ResourceContent embeds a reference to a server resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

func (ResourceContent) isContentBlock() {}

// ToolResult is the content shape of a tool call outcome. IsError marks a
// non-fatal, user-visible failure; callers must fold it into the
// conversation rather than treating it as a protocol fault.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult wraps a single text block as a successful result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{TextContent{Text: text}}}
}

// ErrorResult wraps a single text block flagged as error content.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{TextContent{Text: text}}, IsError: true}
}

// Text flattens all text blocks of the result into one string.
func (r *ToolResult) Text() string {
	var out string
	for _, b := range r.Content {
		if t, ok := b.(TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// wireBlock is the tagged wire form of a ContentBlock.
type wireBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// MarshalJSON encodes the closed block set with a type tag.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	blocks := make([]wireBlock, 0, len(r.Content))
	for _, b := range r.Content {
		switch v := b.(type) {
		case TextContent:
			blocks = append(blocks, wireBlock{Type: "text", Text: v.Text})
		case ImageContent:
			blocks = append(blocks, wireBlock{Type: "image", Data: v.Data, MimeType: v.MimeType})
		case ResourceContent:
			blocks = append(blocks, wireBlock{Type: "resource", URI: v.URI, MimeType: v.MimeType, Text: v.Text})
		default:
			return nil, fmt.Errorf("unknown content block type %T", b)
		}
	}

	return json.Marshal(struct {
		Content []wireBlock `json:"content"`
		IsError bool        `json:"isError,omitempty"`
	}{Content: blocks, IsError: r.IsError})
}

// UnmarshalJSON decodes the tagged wire form back into typed blocks.
// Unknown block types are preserved as text so that newer servers do not
// break older clients.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content []wireBlock `json:"content"`
		IsError bool        `json:"isError,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.IsError = wire.IsError
	r.Content = make([]ContentBlock, 0, len(wire.Content))
	for _, b := range wire.Content {
		switch b.Type {
		case "image":
			r.Content = append(r.Content, ImageContent{Data: b.Data, MimeType: b.MimeType})
		case "resource":
			r.Content = append(r.Content, ResourceContent{URI: b.URI, MimeType: b.MimeType, Text: b.Text})
		default:
			r.Content = append(r.Content, TextContent{Text: b.Text})
		}
	}

	return nil
}
