package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/crm"
	"github.com/chatbridge/wabridge/media"
	"github.com/chatbridge/wabridge/metrics"
	"github.com/chatbridge/wabridge/utils"
)

const (
	// StatusSent is reported to the CRM when the dispatcher accepted the send
	StatusSent = "Sent"
	// StatusNotSent is reported on any failure along the way
	StatusNotSent = "NotSent"

	paramPrefix = "param"

	// defaults applied when a location arrives without usable fields
	defaultLocationName = "מיקום"
	defaultLatitude     = "32.0853"
	defaultLongitude    = "34.7818"
)

// Event is the loosely typed CRM event envelope. Payload carries the
// CRM-native fields and is parsed leniently field by field.
type Event struct {
	MessageName string          `json:"messageName" validate:"required"`
	Payload     json.RawMessage `json:"payload"`
}

// Response is the envelope the CRM expects back.
type Response struct {
	ChannelDefinitionID string `json:"ChannelDefinitionId,omitempty"`
	RequestID           string `json:"RequestId,omitempty"`
	Status              string `json:"Status"`
	MessageID           string `json:"MessageId,omitempty"`
	ErrorMessage        string `json:"ErrorMessage,omitempty"`
}

// Service translates CRM outbound events into canonical send requests,
// invokes the dispatcher over HTTP and maps the result back into the CRM's
// response envelope.
type Service struct {
	crm             crm.Client
	signer          *crm.AttachmentSigner
	urls            *URLResolver
	operation       string
	defaultLanguage string
}

func NewService(crmClient crm.Client, signer *crm.AttachmentSigner, urls *URLResolver, operation string, defaultLanguage string) *Service {
	if defaultLanguage == "" {
		defaultLanguage = wabridge.DefaultTemplateLanguage
	}
	return &Service{crm: crmClient, signer: signer, urls: urls, operation: operation, defaultLanguage: defaultLanguage}
}

// Handle serves POST /forward with a CRM event body.
func (s *Service) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	event := &Event{}
	if err := wabridge.DecodeAndValidateJSON(event, r); err != nil {
		s.writeError(w, &Response{Status: StatusNotSent, ErrorMessage: err.Error()}, err, start)
		return
	}

	response, err := s.Forward(r.Context(), event)
	if err != nil {
		s.writeError(w, response, err, start)
		return
	}

	metrics.SetForwardSuccess(response.ChannelDefinitionID, float64(time.Since(start))/float64(time.Millisecond))
	wabridge.WriteJSON(w, http.StatusOK, response)
}

// Forward processes one event. The returned response is populated on both
// paths: on failure it is the best effort error envelope, carrying whatever
// ids could be recovered from the payload.
func (s *Service) Forward(ctx context.Context, event *Event) (*Response, error) {
	response := &Response{Status: StatusNotSent}

	if event.MessageName != s.operation {
		return response, wabridge.NewValidationError("unexpected message name '%s', expected '%s'", event.MessageName, s.operation)
	}
	if len(event.Payload) == 0 {
		return response, wabridge.NewValidationError("event is missing the payload field")
	}

	// recover the ids first so the error envelope can carry them
	channelDefinitionID, _ := jsonparser.GetString(event.Payload, "ChannelDefinitionId")
	requestID, _ := jsonparser.GetString(event.Payload, "RequestId")
	organizationID, _ := jsonparser.GetString(event.Payload, "OrganizationId")
	from, _ := jsonparser.GetString(event.Payload, "From")
	to, _ := jsonparser.GetString(event.Payload, "To")
	response.ChannelDefinitionID = channelDefinitionID
	response.RequestID = requestID

	templateName, _ := jsonparser.GetString(event.Payload, "Message", "templename")
	if strings.TrimSpace(templateName) == "" {
		return response, wabridge.NewValidationError("event message has no template name")
	}
	language, _ := jsonparser.GetString(event.Payload, "Message", "language")
	if language == "" {
		language = s.defaultLanguage
	}
	templateType, _ := jsonparser.GetString(event.Payload, "Message", "templateType")

	values, err := s.buildValues(ctx, event.Payload)
	if err != nil {
		return response, err
	}

	registrationID, err := s.crm.LookupRegistrationID(ctx, channelDefinitionID, from)
	if err != nil {
		return response, err
	}

	request := &wabridge.TemplateRequest{
		ChannelDefinitionID:   channelDefinitionID,
		ChannelRegistrationID: registrationID,
		RequestID:             requestID,
		OrganizationID:        organizationID,
		From:                  from,
		To:                    to,
		Template: &wabridge.Template{
			Name:     templateName,
			Language: language,
			Type:     templateType,
			Values:   values,
		},
	}

	result, err := s.dispatch(ctx, request)
	if err != nil {
		return response, err
	}

	response.MessageID = result.MessageID
	if !result.Success {
		// the envelope still goes back with the recovered ids, but the
		// failure surfaces as an error status so the platform records it
		response.ErrorMessage = result.Error
		return response, wabridge.NewProviderError("dispatcher rejected the send: %s", result.Error)
	}
	response.Status = StatusSent
	return response, nil
}

// buildValues scans the CRM message fields into the canonical parameter list:
// positional text params, at most one media or location header source, and a
// synthesized blank body value when only a header was produced.
func (s *Service) buildValues(ctx context.Context, payload []byte) ([]wabridge.Parameter, error) {
	type textParam struct {
		position int
		text     string
	}
	texts := []textParam{}

	err := jsonparser.ObjectEach(payload, func(key []byte, value []byte, dataType jsonparser.ValueType, offset int) error {
		name := string(key)
		if !strings.HasPrefix(name, paramPrefix) || dataType != jsonparser.String {
			return nil
		}
		position, err := strconv.Atoi(strings.TrimPrefix(name, paramPrefix))
		if err != nil {
			return nil
		}
		text, err := jsonparser.ParseString(value)
		if err != nil || text == "" {
			return nil
		}
		texts = append(texts, textParam{position: position, text: text})
		return nil
	}, "Message")
	if err != nil {
		return nil, wabridge.NewValidationError("event message is not a JSON object")
	}

	sort.SliceStable(texts, func(i, j int) bool { return texts[i].position < texts[j].position })

	values := make([]wabridge.Parameter, 0, len(texts)+2)
	for _, p := range texts {
		values = append(values, wabridge.Parameter{
			Name: strconv.Itoa(p.position),
			Kind: wabridge.KindText,
			Text: p.text,
		})
	}

	// headerMedia wins over documentfile wins over location, the template
	// carries at most one header
	headerAdded := false
	for _, fileField := range []string{wabridge.ParamHeaderMedia, wabridge.ParamDocumentFile} {
		fileID, _ := jsonparser.GetString(payload, "Message", fileField)
		if fileID == "" {
			continue
		}
		param, err := s.fileParam(ctx, fileField, fileID)
		if err != nil {
			return nil, err
		}
		values = append(values, *param)
		headerAdded = true
		break
	}

	if !headerAdded {
		if param := locationParam(payload); param != nil {
			values = append(values, *param)
			headerAdded = true
		}
	}

	// templates that declare a body reject an empty values list, synthesize
	// a blank body value when only a header was produced
	if headerAdded && len(texts) == 0 {
		values = append(values, wabridge.Parameter{Name: "1", Kind: wabridge.KindText, Text: " "})
	}

	return values, nil
}

// fileParam resolves a file reference id to a media parameter, signing the
// stored URL when it lives on the private attachment host.
func (s *Service) fileParam(ctx context.Context, fieldName string, fileID string) (*wabridge.Parameter, error) {
	meta, err := s.crm.FileMetadata(ctx, fileID)
	if err != nil {
		return nil, err
	}

	link, err := s.signer.SignIfNeeded(meta.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "error signing attachment URL for file '%s'", fileID)
	}

	kind := media.InferKind(meta.ContentType, meta.URL)
	param := &wabridge.Parameter{
		Name: fieldName,
		Kind: wabridge.ParamKind(kind),
		URL:  link,
	}
	// document headers display the filename
	if fieldName == wabridge.ParamDocumentFile {
		param.Text = meta.Filename
	}
	return param, nil
}

// locationParam builds the location parameter when any of the location fields
// are present, applying defaults for whatever is missing or unparsable.
func locationParam(payload []byte) *wabridge.Parameter {
	name, nameErr := jsonparser.GetString(payload, "Message", "locationName")
	address, addressErr := jsonparser.GetString(payload, "Message", "locationAddress")
	latitude, latErr := jsonparser.GetString(payload, "Message", "latitude")
	longitude, longErr := jsonparser.GetString(payload, "Message", "longitude")

	if nameErr != nil && addressErr != nil && latErr != nil && longErr != nil {
		return nil
	}

	if strings.TrimSpace(name) == "" {
		name = defaultLocationName
	}
	if _, err := strconv.ParseFloat(latitude, 64); err != nil {
		latitude = defaultLatitude
	}
	if _, err := strconv.ParseFloat(longitude, 64); err != nil {
		longitude = defaultLongitude
	}

	return &wabridge.Parameter{
		Name:      wabridge.ParamLocation,
		Kind:      wabridge.KindLocation,
		Text:      name,
		Address:   address,
		Latitude:  latitude,
		Longitude: longitude,
	}
}

// dispatch POSTs the canonical request to the resolved dispatch URL and
// parses the result envelope.
func (s *Service) dispatch(ctx context.Context, request *wabridge.TemplateRequest) (*wabridge.DispatchResult, error) {
	dispatchURL, err := s.urls.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling dispatch request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dispatchURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "error building dispatch request")
	}
	req.Header.Set("Content-Type", "application/json")

	// error statuses still carry a result envelope, only connection level
	// failures are fatal here
	rr, err := utils.MakeHTTPRequest(req)
	if rr == nil || rr.Status == utils.RRConnectionFailure {
		return nil, wabridge.NewProviderError("error reaching dispatcher: %v", err)
	}

	result := &wabridge.DispatchResult{}
	result.Success, _ = jsonparser.GetBoolean(rr.Body, "success")
	result.MessageID, _ = jsonparser.GetString(rr.Body, "messageId")
	result.Error, _ = jsonparser.GetString(rr.Body, "error")
	if !result.Success && result.Error == "" {
		return nil, wabridge.NewProviderError("dispatcher returned malformed result: %s", string(rr.Body))
	}
	return result, nil
}

func (s *Service) writeError(w http.ResponseWriter, response *Response, err error, start time.Time) {
	logrus.WithError(err).WithFields(logrus.Fields{
		"channel_definition_id": response.ChannelDefinitionID,
		"request_id":            response.RequestID,
	}).Error("error forwarding outbound event")

	metrics.SetForwardError(response.ChannelDefinitionID, float64(time.Since(start))/float64(time.Millisecond))

	response.Status = StatusNotSent
	if response.ErrorMessage == "" {
		response.ErrorMessage = err.Error()
	}
	wabridge.WriteJSON(w, wabridge.StatusForError(err), response)
}

// URLResolver resolves the dispatch target URL: explicit configuration first,
// then a CRM environment variable. The looked-up value is cached for the
// process lifetime; the cache is injectable so tests can reset it.
type URLResolver struct {
	explicit   string
	schemaName string
	crm        crm.Client
	cache      *cache.Cache
}

const dispatchURLCacheKey = "dispatch_url"

func NewURLResolver(explicit string, schemaName string, crmClient crm.Client, urlCache *cache.Cache) *URLResolver {
	if urlCache == nil {
		urlCache = cache.New(cache.NoExpiration, 0)
	}
	return &URLResolver{explicit: explicit, schemaName: schemaName, crm: crmClient, cache: urlCache}
}

func (r *URLResolver) Resolve(ctx context.Context) (string, error) {
	if r.explicit != "" {
		return r.explicit, nil
	}

	if cached, found := r.cache.Get(dispatchURLCacheKey); found {
		return cached.(string), nil
	}

	value, err := r.crm.EnvironmentValue(ctx, r.schemaName)
	if err != nil {
		return "", err
	}

	r.cache.Set(dispatchURLCacheKey, value, cache.NoExpiration)
	return value, nil
}
