package acs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/template"
	"github.com/chatbridge/wabridge/utils"
)

const apiVersion = "2023-08-24"

// SendReceipt is the per-recipient receipt the provider returns for an
// accepted notification.
type SendReceipt struct {
	MessageID string
	To        string
}

// ConnectionString is the parsed form of the provider credential, a
// semicolon separated "endpoint=...;accesskey=..." pair.
type ConnectionString struct {
	Endpoint  string
	AccessKey string
}

// ParseConnectionString splits and validates a raw connection string.
func ParseConnectionString(raw string) (*ConnectionString, error) {
	cs := &ConnectionString{}
	for _, part := range strings.Split(raw, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			cs.Endpoint = strings.TrimSuffix(strings.TrimSpace(value), "/")
		case "accesskey":
			cs.AccessKey = strings.TrimSpace(value)
		}
	}
	if cs.Endpoint == "" || cs.AccessKey == "" {
		return nil, wabridge.NewConfigurationError("connection string must contain endpoint and accesskey")
	}
	return cs, nil
}

// Client sends template notifications to the provider's messages endpoint.
type Client struct {
	cs         *ConnectionString
	httpClient *http.Client
}

// NewClient builds a client from a raw connection string.
func NewClient(connectionString string) (*Client, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	return &Client{cs: cs, httpClient: utils.GetHTTPClient()}, nil
}

type notification struct {
	ChannelRegistrationID string                    `json:"channelRegistrationId"`
	To                    []string                  `json:"to"`
	Type                  string                    `json:"type"`
	Template              *template.MessageTemplate `json:"template"`
}

// SendTemplate performs a single send attempt and returns the first
// recipient receipt. Provider-level rejections come back as ProviderError.
func (c *Client) SendTemplate(ctx context.Context, channelRegistrationID uuid.UUID, to string, tpl *template.MessageTemplate) (*SendReceipt, error) {
	body, err := json.Marshal(&notification{
		ChannelRegistrationID: channelRegistrationID.String(),
		To:                    []string{to},
		Type:                  "template",
		Template:              tpl,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling notification")
	}

	url := fmt.Sprintf("%s/messages/notifications:send?api-version=%s", c.cs.Endpoint, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "error building notification request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cs.AccessKey))

	rr, err := utils.MakeHTTPRequestWithClient(req, c.httpClient)
	if err != nil {
		if rr != nil && rr.StatusCode > 0 {
			return nil, wabridge.NewProviderError("provider rejected send (%d): %s", rr.StatusCode, providerErrorText(rr.Body))
		}
		return nil, wabridge.NewProviderError("error reaching provider: %s", err.Error())
	}

	messageID, err := jsonparser.GetString(rr.Body, "receipts", "[0]", "messageId")
	if err != nil {
		return nil, errors.Wrap(err, "error parsing receipts from provider response")
	}
	recipient, _ := jsonparser.GetString(rr.Body, "receipts", "[0]", "to")

	return &SendReceipt{MessageID: messageID, To: recipient}, nil
}

// providerErrorText digs the human readable message out of a provider error
// body, falling back to the raw body.
func providerErrorText(body []byte) string {
	if msg, err := jsonparser.GetString(body, "error", "message"); err == nil {
		return msg
	}
	return string(body)
}
