package mcptypes

import "encoding/json"

// Icon is a small visual hint attached to tools/resources/prompts. Present
// end-to-end across entity types, never interpreted by the protocol core
// itself.
type Icon struct {
	Src      string `json:"src"`
	MimeType string `json:"mimeType,omitempty"`
}

// Content is the tagged union of content parts a tool/prompt result may
// carry: text, image, audio, resource_link, or embedded resource.
type Content struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image" | "audio"
	Data     string `json:"data,omitempty"` // base64
	MimeType string `json:"mimeType,omitempty"`

	// type == "resource_link" | "resource"
	URI      string          `json:"uri,omitempty"`
	Name     string          `json:"name,omitempty"`
	Resource *EmbeddedResource `json:"resource,omitempty"`

	Meta Meta `json:"_meta,omitempty"`
}

// EmbeddedResource is the payload of a type:"resource" content part.
type EmbeddedResource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64, mutually exclusive with Text
}

func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

func ImageContent(data, mimeType string) Content {
	return Content{Type: "image", Data: data, MimeType: mimeType}
}

func AudioContent(data, mimeType string) Content {
	return Content{Type: "audio", Data: data, MimeType: mimeType}
}

func ResourceLinkContent(uri, name, mimeType string) Content {
	return Content{Type: "resource_link", URI: uri, Name: name, MimeType: mimeType}
}

// CallToolResult is the result of tools/call: either unstructured content or
// structured content with a fallback rendering.
type CallToolResult struct {
	Content           []Content       `json:"content,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
	Meta              Meta            `json:"_meta,omitempty"`
}

// WithRelatedTask stamps `_meta.relatedTask` on a terminal task's result.
func (r *CallToolResult) WithRelatedTask(taskID string) *CallToolResult {
	if r.Meta == nil {
		r.Meta = Meta{}
	}
	r.Meta["relatedTask"] = map[string]string{"taskId": taskID}
	return r
}

func ErrorResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{TextContent(text)}, IsError: true}
}
