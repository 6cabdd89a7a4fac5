package wabridge

import (
	"encoding/json"
	"io"
	"net/http"

	validator "gopkg.in/go-playground/validator.v9"
)

var (
	validate = validator.New()

	// inbound bodies larger than this are rejected outright
	maxRequestBytes int64 = 1000000
)

// Validate validates the passed in struct using our shared validator
func Validate(obj interface{}) error {
	return validate.Struct(obj)
}

// DecodeAndValidateJSON takes the passed in envelope and tries to unmarshal it
// from the body of the passed in request, then validates it
func DecodeAndValidateJSON(envelope interface{}, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return NewValidationError("unable to read request body: %s", err)
	}

	if err := json.Unmarshal(body, envelope); err != nil {
		return NewValidationError("unable to parse request JSON: %s", err)
	}

	if err := Validate(envelope); err != nil {
		return NewValidationError("request JSON doesn't match required schema: %s", err)
	}

	return nil
}

// WriteJSON marshals the passed in value to the response writer as camelCase
// JSON with the passed in status code
func WriteJSON(w http.ResponseWriter, statusCode int, value interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(value)
}
