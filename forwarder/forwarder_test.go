package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/crm"
)

type mockCRM struct {
	registrationID string
	lookupErr      error
	files          map[string]*crm.FileMeta
	envValues      map[string]string
	envCalls       int
}

func (m *mockCRM) LookupRegistrationID(ctx context.Context, channelDefinitionID string, address string) (string, error) {
	if m.lookupErr != nil {
		return "", m.lookupErr
	}
	return m.registrationID, nil
}

func (m *mockCRM) FileMetadata(ctx context.Context, fileID string) (*crm.FileMeta, error) {
	meta, found := m.files[fileID]
	if !found {
		return nil, wabridge.NewNotFoundError("file '%s' has no stored url", fileID)
	}
	return meta, nil
}

func (m *mockCRM) EnvironmentValue(ctx context.Context, schemaName string) (string, error) {
	m.envCalls++
	value, found := m.envValues[schemaName]
	if !found {
		return "", wabridge.NewConfigurationError("environment variable '%s' has no value", schemaName)
	}
	return value, nil
}

// newDispatchServer returns a stub dispatcher that captures the request it
// receives and answers with a canned success
func newDispatchServer(captured *wabridge.TemplateRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(captured)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "messageId": "msg-123", "status": "+972501234567"}`))
	}))
}

func newTestService(crmClient crm.Client, dispatchURL string) *Service {
	urls := NewURLResolver(dispatchURL, "wabridge_dispatch_url", crmClient, nil)
	return NewService(crmClient, nil, urls, "wa_outbound_send", "he")
}

func eventBody(payload string) string {
	return fmt.Sprintf(`{"messageName": "wa_outbound_send", "payload": %s}`, payload)
}

func post(t *testing.T, svc *Service, body string) (*httptest.ResponseRecorder, *Response) {
	req := httptest.NewRequest(http.MethodPost, "/forward", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Handle(rec, req)

	response := &Response{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), response))
	return rec, response
}

func TestForwardTextParams(t *testing.T) {
	captured := &wabridge.TemplateRequest{}
	server := newDispatchServer(captured)
	defer server.Close()

	crmClient := &mockCRM{registrationID: "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7"}
	svc := newTestService(crmClient, server.URL)

	rec, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"RequestId": "req-1",
		"OrganizationId": "org-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "order_update", "language": "he", "param2": "Thursday", "param10": "late", "param1": "David"}
	}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusSent, response.Status)
	assert.Equal(t, "msg-123", response.MessageID)
	assert.Equal(t, "def-1", response.ChannelDefinitionID)
	assert.Equal(t, "req-1", response.RequestID)
	assert.Empty(t, response.ErrorMessage)

	assert.Equal(t, "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7", captured.ChannelRegistrationID)
	assert.Equal(t, "+972501234567", captured.To)
	require.NotNil(t, captured.Template)
	assert.Equal(t, "order_update", captured.Template.Name)

	// positional params arrive sorted by their numeric position
	require.Len(t, captured.Template.Values, 3)
	assert.Equal(t, wabridge.Parameter{Name: "1", Kind: wabridge.KindText, Text: "David"}, captured.Template.Values[0])
	assert.Equal(t, wabridge.Parameter{Name: "2", Kind: wabridge.KindText, Text: "Thursday"}, captured.Template.Values[1])
	assert.Equal(t, wabridge.Parameter{Name: "10", Kind: wabridge.KindText, Text: "late"}, captured.Template.Values[2])
}

func TestForwardHeaderMediaSynthesizesBodyText(t *testing.T) {
	captured := &wabridge.TemplateRequest{}
	server := newDispatchServer(captured)
	defer server.Close()

	crmClient := &mockCRM{
		registrationID: "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7",
		files: map[string]*crm.FileMeta{
			"file-1": {URL: "https://files.example.com/file-1/photo.jpg", Filename: "photo.jpg", ContentType: "image/jpeg"},
		},
	}
	svc := newTestService(crmClient, server.URL)

	rec, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "photo_update", "headerMedia": "file-1"}
	}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusSent, response.Status)
	assert.Equal(t, "he", captured.Template.Language)

	require.Len(t, captured.Template.Values, 2)
	assert.Equal(t, wabridge.Parameter{Name: "headerMedia", Kind: wabridge.KindImage, URL: "https://files.example.com/file-1/photo.jpg"}, captured.Template.Values[0])
	assert.Equal(t, wabridge.Parameter{Name: "1", Kind: wabridge.KindText, Text: " "}, captured.Template.Values[1])
}

func TestForwardDocumentFile(t *testing.T) {
	captured := &wabridge.TemplateRequest{}
	server := newDispatchServer(captured)
	defer server.Close()

	crmClient := &mockCRM{
		registrationID: "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7",
		files: map[string]*crm.FileMeta{
			"file-2": {URL: "https://files.example.com/file-2/invoice.pdf", Filename: "invoice.pdf", ContentType: "application/pdf"},
		},
	}
	svc := newTestService(crmClient, server.URL)

	_, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "invoice_ready", "param1": "Your invoice", "documentfile": "file-2"}
	}`))

	assert.Equal(t, StatusSent, response.Status)
	require.Len(t, captured.Template.Values, 2)
	assert.Equal(t, "documentfile", captured.Template.Values[1].Name)
	assert.Equal(t, wabridge.KindDocument, captured.Template.Values[1].Kind)
	assert.Equal(t, "invoice.pdf", captured.Template.Values[1].Text)
	// a text param exists, no blank body value is synthesized
	assert.Equal(t, "Your invoice", captured.Template.Values[0].Text)
}

func TestForwardHeaderMediaWinsOverDocumentFile(t *testing.T) {
	captured := &wabridge.TemplateRequest{}
	server := newDispatchServer(captured)
	defer server.Close()

	crmClient := &mockCRM{
		registrationID: "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7",
		files: map[string]*crm.FileMeta{
			"file-1": {URL: "https://files.example.com/file-1/photo.jpg", ContentType: "image/jpeg"},
			"file-2": {URL: "https://files.example.com/file-2/invoice.pdf", ContentType: "application/pdf"},
		},
	}
	svc := newTestService(crmClient, server.URL)

	_, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "photo_update", "headerMedia": "file-1", "documentfile": "file-2", "locationName": "HQ"}
	}`))

	assert.Equal(t, StatusSent, response.Status)
	headerValues := []wabridge.Parameter{}
	for _, v := range captured.Template.Values {
		if v.Kind != wabridge.KindText {
			headerValues = append(headerValues, v)
		}
	}
	require.Len(t, headerValues, 1)
	assert.Equal(t, "headerMedia", headerValues[0].Name)
}

func TestForwardLocationDefaults(t *testing.T) {
	captured := &wabridge.TemplateRequest{}
	server := newDispatchServer(captured)
	defer server.Close()

	crmClient := &mockCRM{registrationID: "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7"}
	svc := newTestService(crmClient, server.URL)

	_, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "branch_visit", "locationAddress": "1 Rothschild Blvd", "latitude": "north", "longitude": ""}
	}`))

	assert.Equal(t, StatusSent, response.Status)
	require.Len(t, captured.Template.Values, 2)
	location := captured.Template.Values[0]
	assert.Equal(t, wabridge.KindLocation, location.Kind)
	assert.Equal(t, "מיקום", location.Text)
	assert.Equal(t, "1 Rothschild Blvd", location.Address)
	assert.Equal(t, "32.0853", location.Latitude)
	assert.Equal(t, "34.7818", location.Longitude)
	// location counts as a header, a blank body value is synthesized
	assert.Equal(t, wabridge.Parameter{Name: "1", Kind: wabridge.KindText, Text: " "}, captured.Template.Values[1])
}

func TestForwardWrongMessageName(t *testing.T) {
	svc := newTestService(&mockCRM{}, "https://dispatch.example.com/send")

	rec, response := post(t, svc, `{"messageName": "wa_inbound_receive", "payload": {"To": "+972501234567"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, StatusNotSent, response.Status)
	assert.Contains(t, response.ErrorMessage, "wa_inbound_receive")
}

func TestForwardMissingPayload(t *testing.T) {
	svc := newTestService(&mockCRM{}, "https://dispatch.example.com/send")

	rec, response := post(t, svc, `{"messageName": "wa_outbound_send"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, StatusNotSent, response.Status)
}

func TestForwardLowercaseMessageKeyIgnored(t *testing.T) {
	// the nested object lives under "Message", matching the casing of the
	// sibling envelope fields
	svc := newTestService(&mockCRM{}, "https://dispatch.example.com/send")

	rec, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"message": {"templename": "order_update", "param1": "Hello"}
	}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, StatusNotSent, response.Status)
	assert.Contains(t, response.ErrorMessage, "no template name")
}

func TestForwardBlankTemplateName(t *testing.T) {
	svc := newTestService(&mockCRM{}, "https://dispatch.example.com/send")

	rec, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"RequestId": "req-1",
		"To": "+972501234567",
		"Message": {"templename": "  "}
	}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, StatusNotSent, response.Status)
	// recovered ids are preserved in the error envelope
	assert.Equal(t, "def-1", response.ChannelDefinitionID)
	assert.Equal(t, "req-1", response.RequestID)
}

func TestForwardRegistrationNotFound(t *testing.T) {
	crmClient := &mockCRM{lookupErr: wabridge.NewNotFoundError("no active channel instance")}
	svc := newTestService(crmClient, "https://dispatch.example.com/send")

	rec, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "order_update", "param1": "Hello"}
	}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, StatusNotSent, response.Status)
	assert.Contains(t, response.ErrorMessage, "no active channel instance")
}

func TestForwardDispatcherFailureEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"success": false, "error": "provider rejected send"}`))
	}))
	defer server.Close()

	crmClient := &mockCRM{registrationID: "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7"}
	svc := newTestService(crmClient, server.URL)

	rec, response := post(t, svc, eventBody(`{
		"ChannelDefinitionId": "def-1",
		"From": "+972500000001",
		"To": "+972501234567",
		"Message": {"templename": "order_update", "param1": "Hello"}
	}`))

	// the envelope carries the dispatcher's error and the recovered ids, and
	// the failure propagates as a non-2xx status
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, StatusNotSent, response.Status)
	assert.Equal(t, "provider rejected send", response.ErrorMessage)
	assert.Equal(t, "def-1", response.ChannelDefinitionID)
}

func TestURLResolver(t *testing.T) {
	crmClient := &mockCRM{envValues: map[string]string{"wabridge_dispatch_url": "https://looked-up.example.com/send"}}

	// explicit configuration wins, no lookup happens
	resolver := NewURLResolver("https://explicit.example.com/send", "wabridge_dispatch_url", crmClient, nil)
	url, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://explicit.example.com/send", url)
	assert.Equal(t, 0, crmClient.envCalls)

	// without explicit config the environment variable is looked up once
	// and cached
	resolver = NewURLResolver("", "wabridge_dispatch_url", crmClient, nil)
	for i := 0; i < 3; i++ {
		url, err = resolver.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://looked-up.example.com/send", url)
	}
	assert.Equal(t, 1, crmClient.envCalls)

	// nothing resolvable
	resolver = NewURLResolver("", "missing_variable", crmClient, nil)
	_, err = resolver.Resolve(context.Background())
	require.Error(t, err)
	assert.IsType(t, &wabridge.ConfigurationError{}, err)
}
