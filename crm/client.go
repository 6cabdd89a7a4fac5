package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/buger/jsonparser"
	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/utils"
)

// FileMeta is the stored metadata for a CRM file attachment.
type FileMeta struct {
	URL         string
	Filename    string
	ContentType string
}

// Client is the CRM side collaborator: registration id resolution, attachment
// metadata and environment variable lookups.
type Client interface {
	LookupRegistrationID(ctx context.Context, channelDefinitionID string, address string) (string, error)
	FileMetadata(ctx context.Context, fileID string) (*FileMeta, error)
	EnvironmentValue(ctx context.Context, schemaName string) (string, error)
}

// WebClient talks to the CRM platform's data API. When a redis pool is
// passed in, resolved registration ids are cached there.
type WebClient struct {
	baseURL   string
	authToken string
	redisPool *redis.Pool
}

func NewWebClient(baseURL string, authToken string, redisPool *redis.Pool) *WebClient {
	return &WebClient{baseURL: baseURL, authToken: authToken, redisPool: redisPool}
}

// LookupRegistrationID resolves the provider registration id for a sending
// address in two steps: the active channel instance for the definition and
// address, then the extended record that instance links to.
func (c *WebClient) LookupRegistrationID(ctx context.Context, channelDefinitionID string, address string) (string, error) {
	if cached := c.cachedRegistrationID(channelDefinitionID, address); cached != "" {
		return cached, nil
	}

	query := url.Values{}
	query.Set("channelDefinitionId", channelDefinitionID)
	query.Set("address", address)
	query.Set("state", "active")

	body, err := c.get(ctx, "/channelinstances?"+query.Encode())
	if err != nil {
		return "", err
	}

	extendedID, err := jsonparser.GetString(body, "value", "[0]", "extendedEntityId")
	if err != nil {
		return "", wabridge.NewNotFoundError("no active channel instance for definition '%s' and address '%s'", channelDefinitionID, address)
	}

	body, err = c.get(ctx, fmt.Sprintf("/channelinstanceaccounts(%s)", extendedID))
	if err != nil {
		return "", err
	}

	registrationID, err := jsonparser.GetString(body, "channelRegistrationId")
	if err != nil || registrationID == "" {
		return "", wabridge.NewNotFoundError("channel instance account '%s' has no registration id", extendedID)
	}

	c.cacheRegistrationID(channelDefinitionID, address, registrationID)
	return registrationID, nil
}

// FileMetadata fetches the stored URL, filename and content type for a file
// reference id.
func (c *WebClient) FileMetadata(ctx context.Context, fileID string) (*FileMeta, error) {
	body, err := c.get(ctx, fmt.Sprintf("/files(%s)", fileID))
	if err != nil {
		return nil, err
	}

	fileURL, err := jsonparser.GetString(body, "url")
	if err != nil || fileURL == "" {
		return nil, wabridge.NewNotFoundError("file '%s' has no stored url", fileID)
	}
	filename, _ := jsonparser.GetString(body, "filename")
	contentType, _ := jsonparser.GetString(body, "mimeType")

	return &FileMeta{URL: fileURL, Filename: filename, ContentType: contentType}, nil
}

// EnvironmentValue reads the current value of a CRM environment variable by
// its schema name.
func (c *WebClient) EnvironmentValue(ctx context.Context, schemaName string) (string, error) {
	query := url.Values{}
	query.Set("schemaName", schemaName)

	body, err := c.get(ctx, "/environmentvariablevalues?"+query.Encode())
	if err != nil {
		return "", err
	}

	value, err := jsonparser.GetString(body, "value", "[0]", "value")
	if err != nil || value == "" {
		// no current value set, fall back to the definition's default
		value, err = jsonparser.GetString(body, "value", "[0]", "defaultValue")
	}
	if err != nil || value == "" {
		return "", wabridge.NewConfigurationError("environment variable '%s' has no value", schemaName)
	}
	return value, nil
}

func (c *WebClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error building CRM request")
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	}

	rr, err := utils.MakeHTTPRequest(req)
	if err != nil {
		if rr != nil && rr.StatusCode == http.StatusNotFound {
			return nil, wabridge.NewNotFoundError("CRM record not found: %s", path)
		}
		return nil, errors.Wrapf(err, "error calling CRM at %s", path)
	}
	return rr.Body, nil
}

func (c *WebClient) cachedRegistrationID(channelDefinitionID string, address string) string {
	if c.redisPool == nil {
		return ""
	}
	rc := c.redisPool.Get()
	defer rc.Close()

	value, err := redis.String(rc.Do("GET", registrationKey(channelDefinitionID, address)))
	if err != nil && err != redis.ErrNil {
		logrus.WithError(err).Warn("error reading registration id from cache")
	}
	return value
}

func (c *WebClient) cacheRegistrationID(channelDefinitionID string, address string, registrationID string) {
	if c.redisPool == nil {
		return
	}
	rc := c.redisPool.Get()
	defer rc.Close()

	_, err := rc.Do("SETEX", registrationKey(channelDefinitionID, address), registrationTTL, registrationID)
	if err != nil {
		logrus.WithError(err).Warn("error caching registration id")
	}
}

// registration ids change only when a channel is re-onboarded, an hour of
// staleness is acceptable
const registrationTTL = 3600

func registrationKey(channelDefinitionID string, address string) string {
	return fmt.Sprintf("wabridge:registration:%s:%s", channelDefinitionID, address)
}
