package wabridge

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultTemplateLanguage is used when a request does not carry a language code.
const DefaultTemplateLanguage = "he"

// reserved parameter names that select header handling instead of body handling
const (
	ParamHeaderMedia  = "headerMedia"
	ParamDocumentFile = "documentfile"
	ParamLocation     = "location"
	ParamButtonURL1   = "buttonUrl1"
)

// ParamKind is the closed set of template parameter kinds. Unrecognized kinds
// collapse to KindUnknown at decode time rather than being compared as raw
// strings downstream.
type ParamKind string

const (
	KindText        ParamKind = "text"
	KindImage       ParamKind = "image"
	KindVideo       ParamKind = "video"
	KindDocument    ParamKind = "document"
	KindLocation    ParamKind = "location"
	KindButtonURL   ParamKind = "buttonUrl"
	KindQuickAction ParamKind = "quickAction"
	KindUnknown     ParamKind = "unknown"
)

// ParamKindFromString maps a free form kind string to its canonical ParamKind.
// An absent or blank kind means a plain text slot.
func ParamKindFromString(s string) ParamKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return KindText
	case "image":
		return KindImage
	case "video":
		return KindVideo
	case "document":
		return KindDocument
	case "location":
		return KindLocation
	case "buttonurl":
		return KindButtonURL
	case "quickaction":
		return KindQuickAction
	}
	return KindUnknown
}

// UnmarshalJSON normalizes the wire kind into the closed set.
func (k *ParamKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = ParamKindFromString(s)
	return nil
}

// Parameter is one template slot. Name is the positional key the provider
// expects for text parameters ("1", "2", ...) or one of the reserved names
// for header slots.
type Parameter struct {
	Name      string    `json:"name"`
	Kind      ParamKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	Address   string    `json:"address,omitempty"`
	Latitude  string    `json:"latitude,omitempty"`
	Longitude string    `json:"longitude,omitempty"`
}

// Template is the template section of a send request.
type Template struct {
	Name     string      `json:"name"     validate:"required"`
	Language string      `json:"language"`
	Type     string      `json:"type,omitempty"`
	Values   []Parameter `json:"values"`
}

// TemplateRequest is the canonical outbound request accepted by the
// dispatcher. The forwarder emits exactly this shape.
//
//	{
//	  "channelRegistrationId": "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7",
//	  "to": "+972501234567",
//	  "template": {"name": "order_update", "language": "he", "values": [...]}
//	}
type TemplateRequest struct {
	ChannelDefinitionID   string    `json:"channelDefinitionId,omitempty"`
	ChannelRegistrationID string    `json:"channelRegistrationId" validate:"required"`
	RequestID             string    `json:"requestId,omitempty"`
	OrganizationID        string    `json:"organizationId,omitempty"`
	From                  string    `json:"from,omitempty"`
	To                    string    `json:"to" validate:"required"`
	Template              *Template `json:"template"`
}

// DispatchResult is the normalized outcome of one send attempt. It is created
// fresh per request and serialized as camelCase JSON.
type DispatchResult struct {
	Success      bool      `json:"success"`
	MessageID    string    `json:"messageId,omitempty"`
	Status       string    `json:"status,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	TemplateName string    `json:"templateName,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// NewDispatchError builds the failure variant of DispatchResult.
func NewDispatchError(err error) DispatchResult {
	return DispatchResult{
		Success:   false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
