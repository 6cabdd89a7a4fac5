package template

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/media"
)

// MessageTemplate is the provider-facing template document sent with an
// outbound message. Bindings is nil when no parameter produced a value so the
// template goes out as a bare parameterless call.
type MessageTemplate struct {
	Name     string    `json:"name"`
	Language string    `json:"language"`
	Bindings *Bindings `json:"bindings,omitempty"`
	Values   []Value   `json:"values,omitempty"`
}

// Bindings maps template components to the named values that fill them.
type Bindings struct {
	Body    []Binding       `json:"body,omitempty"`
	Header  []Binding       `json:"header,omitempty"`
	Buttons []ButtonBinding `json:"buttons,omitempty"`
}

// Binding points a body or header component at a value by its position name.
type Binding struct {
	RefValue string `json:"refValue"`
}

// ButtonBinding points a button component at a value by its position name.
type ButtonBinding struct {
	SubType  string `json:"subType"`
	RefValue string `json:"refValue"`
}

// Value is one bound value, tagged with the position key its binding refers to.
type Value struct {
	Name     string             `json:"name"`
	Kind     wabridge.ParamKind `json:"kind"`
	Text     string             `json:"text,omitempty"`
	URL      string             `json:"url,omitempty"`
	Address  string             `json:"address,omitempty"`
	Position *GeoPosition       `json:"position,omitempty"`
}

// GeoPosition is the coordinate pair attached to a location value.
type GeoPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

const (
	headerPosition = "header"
	buttonSubType  = "url"
)

// IsURLButtonTemplate reports whether a template should get the URL-button
// treatment. Detection is by naming convention, templates carrying a URL
// button embed "link" in their name. Keep this the single place that knows
// the convention so it can move to real template metadata later.
func IsURLButtonTemplate(name string) bool {
	return strings.Contains(strings.ToLower(name), "link")
}

// Build assembles the provider binding/value model for a template from its
// named parameter list. Parameters that match no recognized pattern are simply
// skipped, only a malformed media URL fails the build.
func Build(name string, language string, params []wabridge.Parameter) (*MessageTemplate, error) {
	if language == "" {
		language = wabridge.DefaultTemplateLanguage
	}

	// a parameter decoded without a kind field carries the zero value, it
	// means a plain text slot
	for i := range params {
		if params[i].Kind == "" {
			params[i].Kind = wabridge.KindText
		}
	}

	tpl := &MessageTemplate{Name: name, Language: language}
	bindings := &Bindings{}
	values := make([]Value, 0, len(params))

	if IsURLButtonTemplate(name) {
		if body := firstTextParam(params); body != nil {
			bindings.Body = append(bindings.Body, Binding{RefValue: "1"})
			values = append(values, Value{Name: "1", Kind: wabridge.KindText, Text: body.Text})
		}
		if button := findButtonParam(params); button != nil {
			bindings.Buttons = append(bindings.Buttons, ButtonBinding{SubType: buttonSubType, RefValue: "2"})
			values = append(values, Value{Name: "2", Kind: wabridge.KindQuickAction, Text: button.Text})
		}
	} else {
		for _, p := range params {
			if p.Kind == wabridge.KindText && p.Text != "" && p.Name != wabridge.ParamHeaderMedia {
				bindings.Body = append(bindings.Body, Binding{RefValue: p.Name})
				values = append(values, Value{Name: p.Name, Kind: wabridge.KindText, Text: p.Text})
			}
		}
	}

	if header := findHeaderParam(params); header != nil {
		bindings.Header = append(bindings.Header, Binding{RefValue: headerPosition})

		if header.Kind == wabridge.KindLocation {
			value := Value{Name: headerPosition, Kind: wabridge.KindLocation, Text: header.Text, Address: header.Address}
			lat, latErr := strconv.ParseFloat(header.Latitude, 64)
			long, longErr := strconv.ParseFloat(header.Longitude, 64)
			if latErr == nil && longErr == nil {
				value.Position = &GeoPosition{Latitude: lat, Longitude: long}
			}
			values = append(values, value)
		} else {
			if _, err := url.ParseRequestURI(header.URL); err != nil {
				return nil, wabridge.NewValidationError("invalid media url '%s' for template '%s'", header.URL, name)
			}
			kind := wabridge.ParamKind(media.KindFromString(string(header.Kind)))
			values = append(values, Value{Name: headerPosition, Kind: kind, URL: header.URL})
		}
	}

	// the provider rejects empty binding collections, attach only when a
	// value was actually produced
	if len(bindings.Body) > 0 || len(bindings.Header) > 0 || len(bindings.Buttons) > 0 {
		tpl.Bindings = bindings
		tpl.Values = values
	}

	return tpl, nil
}

func firstTextParam(params []wabridge.Parameter) *wabridge.Parameter {
	for i, p := range params {
		if p.Kind == wabridge.KindText && p.Text != "" {
			return &params[i]
		}
	}
	return nil
}

// findButtonParam locates the value for a URL button: an explicitly tagged
// action parameter when present, otherwise the second text parameter.
func findButtonParam(params []wabridge.Parameter) *wabridge.Parameter {
	for i, p := range params {
		if p.Kind == wabridge.KindButtonURL || p.Kind == wabridge.KindQuickAction || p.Name == wabridge.ParamButtonURL1 {
			return &params[i]
		}
	}
	seen := 0
	for i, p := range params {
		if p.Kind == wabridge.KindText && p.Text != "" {
			seen++
			if seen == 2 {
				return &params[i]
			}
		}
	}
	return nil
}

func findHeaderParam(params []wabridge.Parameter) *wabridge.Parameter {
	for i, p := range params {
		switch p.Name {
		case wabridge.ParamHeaderMedia, wabridge.ParamDocumentFile, wabridge.ParamLocation:
			if p.URL != "" || p.Kind == wabridge.KindLocation {
				return &params[i]
			}
		}
	}
	return nil
}
