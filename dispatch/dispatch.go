package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/nyaruka/librato"
	"github.com/nyaruka/null"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/acs"
	"github.com/chatbridge/wabridge/events"
	"github.com/chatbridge/wabridge/metrics"
	"github.com/chatbridge/wabridge/template"
	"github.com/chatbridge/wabridge/tracking"
)

// Sender performs one outbound template send.
type Sender interface {
	SendTemplate(ctx context.Context, channelRegistrationID uuid.UUID, to string, tpl *template.MessageTemplate) (*acs.SendReceipt, error)
}

// SenderFactory builds a Sender from a resolved connection string.
type SenderFactory func(connectionString string) (Sender, error)

// ACSSenderFactory is the production factory.
func ACSSenderFactory(connectionString string) (Sender, error) {
	return acs.NewClient(connectionString)
}

// SecretSource resolves the provider connection string per request.
type SecretSource interface {
	ConnectionString(ctx context.Context) (string, error)
}

// Service owns the send lifecycle: validate, resolve credentials, build the
// template, send, and map the outcome to a DispatchResult.
type Service struct {
	secrets   SecretSource
	newSender SenderFactory
	tracking  tracking.Store
	events    events.Client
}

func NewService(secrets SecretSource, newSender SenderFactory, trackingStore tracking.Store, eventsClient events.Client) *Service {
	if trackingStore == nil {
		trackingStore = tracking.NullStore{}
	}
	if eventsClient == nil {
		eventsClient = events.NullClient{}
	}
	return &Service{secrets: secrets, newSender: newSender, tracking: trackingStore, events: eventsClient}
}

// Handle serves POST /send with a canonical TemplateRequest body.
func (s *Service) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	request := &wabridge.TemplateRequest{}
	if err := wabridge.DecodeAndValidateJSON(request, r); err != nil {
		s.writeError(w, "", err, start)
		return
	}
	if request.Template == nil {
		s.writeError(w, "", wabridge.NewValidationError("request is missing the template section"), start)
		return
	}

	result, err := s.Dispatch(r.Context(), request)
	if err != nil {
		s.writeError(w, request.Template.Name, err, start)
		return
	}

	metrics.SetDispatchSuccess(request.Template.Name, float64(time.Since(start))/float64(time.Millisecond))
	wabridge.WriteJSON(w, http.StatusOK, result)
}

// Dispatch performs the send and returns the success result. All failures
// come back as classified errors.
func (s *Service) Dispatch(ctx context.Context, request *wabridge.TemplateRequest) (*wabridge.DispatchResult, error) {
	start := time.Now()

	connectionString, err := s.secrets.ConnectionString(ctx)
	if err != nil {
		return nil, err
	}

	// the registration id is not pre-validated, a malformed one surfaces
	// as an internal error
	channelID, err := uuid.FromString(request.ChannelRegistrationID)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing channel registration id '%s'", request.ChannelRegistrationID)
	}

	tpl, err := template.Build(request.Template.Name, request.Template.Language, request.Template.Values)
	if err != nil {
		return nil, err
	}

	sender, err := s.newSender(connectionString)
	if err != nil {
		return nil, err
	}

	receipt, err := sender.SendTemplate(ctx, channelID, request.To, tpl)
	if err != nil {
		metrics.SetDispatchErrorByChannel(channelID, float64(time.Since(start))/float64(time.Millisecond))
		return nil, err
	}

	sentOn := time.Now().UTC()
	result := &wabridge.DispatchResult{
		Success:      true,
		MessageID:    receipt.MessageID,
		Status:       receipt.To,
		Recipient:    request.To,
		TemplateName: tpl.Name,
		Timestamp:    sentOn,
	}

	metrics.SetDispatchSuccessByChannel(channelID, float64(time.Since(start))/float64(time.Millisecond))
	librato.Gauge("wabridge.dispatch_duration", float64(time.Since(start))/float64(time.Second))
	s.recordSend(request, receipt, sentOn)

	return result, nil
}

// recordSend writes the tracking record and publishes the dispatch event in
// the background. Both are best effort, a failure never affects the request
// that produced it.
func (s *Service) recordSend(request *wabridge.TemplateRequest, receipt *acs.SendReceipt, sentOn time.Time) {
	record := &tracking.Record{
		MessageID:             receipt.MessageID,
		RequestID:             null.String(request.RequestID),
		ChannelDefinitionID:   null.String(request.ChannelDefinitionID),
		ChannelRegistrationID: request.ChannelRegistrationID,
		FromAddr:              null.String(request.From),
		ToAddr:                request.To,
		TemplateName:          request.Template.Name,
		Status:                null.String(receipt.To),
		CreatedOn:             sentOn,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("recovering from tracking write panic: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
		defer cancel()

		if err := s.tracking.WriteSendRecord(ctx, record); err != nil {
			metrics.IncTrackingWriteError()
			logrus.WithError(err).WithField("message_id", receipt.MessageID).Error("error writing send record")
		}
	}()

	s.events.PublishAsync(events.DispatchEvent{
		MessageID:             receipt.MessageID,
		RequestID:             request.RequestID,
		ChannelDefinitionID:   request.ChannelDefinitionID,
		ChannelRegistrationID: request.ChannelRegistrationID,
		From:                  request.From,
		To:                    request.To,
		TemplateName:          request.Template.Name,
		SentOn:                sentOn.Format(time.RFC3339),
	}, nil, nil)
}

func (s *Service) writeError(w http.ResponseWriter, templateName string, err error, start time.Time) {
	logrus.WithError(err).WithField("template", templateName).Error("error dispatching template message")
	metrics.SetDispatchError(templateName, float64(time.Since(start))/float64(time.Millisecond))
	wabridge.WriteJSON(w, wabridge.StatusForError(err), wabridge.NewDispatchError(err))
}
