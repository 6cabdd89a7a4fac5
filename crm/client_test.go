package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/wabridge"
)

func newCRMServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer crm-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/channelinstances":
			if r.URL.Query().Get("address") == "+972500000001" {
				w.Write([]byte(`{"value": [{"id": "ci-1", "extendedEntityId": "cia-9"}]}`))
			} else {
				w.Write([]byte(`{"value": []}`))
			}
		case r.URL.Path == "/channelinstanceaccounts(cia-9)":
			w.Write([]byte(`{"channelRegistrationId": "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7"}`))
		case r.URL.Path == "/files(file-1)":
			w.Write([]byte(`{"url": "https://files.example.com/file-1/invoice.pdf", "filename": "invoice.pdf", "mimeType": "application/pdf"}`))
		case r.URL.Path == "/environmentvariablevalues":
			switch r.URL.Query().Get("schemaName") {
			case "wabridge_dispatch_url":
				w.Write([]byte(`{"value": [{"value": "https://dispatch.example.com/send"}]}`))
			case "wabridge_default_only":
				w.Write([]byte(`{"value": [{"value": "", "defaultValue": "https://default.example.com/send"}]}`))
			default:
				w.Write([]byte(`{"value": []}`))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestLookupRegistrationID(t *testing.T) {
	server := newCRMServer(t)
	defer server.Close()

	client := NewWebClient(server.URL, "crm-token", nil)

	registrationID, err := client.LookupRegistrationID(context.Background(), "def-1", "+972500000001")
	require.NoError(t, err)
	assert.Equal(t, "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7", registrationID)

	_, err = client.LookupRegistrationID(context.Background(), "def-1", "+972500009999")
	require.Error(t, err)
	assert.IsType(t, &wabridge.NotFoundError{}, err)
}

func TestFileMetadata(t *testing.T) {
	server := newCRMServer(t)
	defer server.Close()

	client := NewWebClient(server.URL, "crm-token", nil)

	meta, err := client.FileMetadata(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/file-1/invoice.pdf", meta.URL)
	assert.Equal(t, "invoice.pdf", meta.Filename)
	assert.Equal(t, "application/pdf", meta.ContentType)

	_, err = client.FileMetadata(context.Background(), "missing")
	require.Error(t, err)
	assert.IsType(t, &wabridge.NotFoundError{}, err)
}

func TestEnvironmentValue(t *testing.T) {
	server := newCRMServer(t)
	defer server.Close()

	client := NewWebClient(server.URL, "crm-token", nil)

	value, err := client.EnvironmentValue(context.Background(), "wabridge_dispatch_url")
	require.NoError(t, err)
	assert.Equal(t, "https://dispatch.example.com/send", value)

	// no current value, the definition default applies
	value, err = client.EnvironmentValue(context.Background(), "wabridge_default_only")
	require.NoError(t, err)
	assert.Equal(t, "https://default.example.com/send", value)

	_, err = client.EnvironmentValue(context.Background(), "missing_variable")
	require.Error(t, err)
	assert.IsType(t, &wabridge.ConfigurationError{}, err)
}

func TestSignIfNeeded(t *testing.T) {
	// no sign host configured, links pass through
	var signer *AttachmentSigner
	link, err := signer.SignIfNeeded("https://files.example.com/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/a.pdf", link)

	signer = NewAttachmentSigner("test-key", "test-secret", "us-east-1", "s3.amazonaws.com")

	// other hosts pass through
	link, err = signer.SignIfNeeded("https://files.example.com/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/a.pdf", link)

	// matching host gets signed
	link, err = signer.SignIfNeeded("https://my-bucket.s3.amazonaws.com/attachments/file.jpg")
	require.NoError(t, err)
	assert.Contains(t, link, "X-Amz-Signature=")
	assert.Contains(t, link, "X-Amz-Expires=604800")
	assert.Contains(t, link, "/attachments/file.jpg")

	_, err = signer.SignIfNeeded("not-a-url")
	assert.Error(t, err)
}
