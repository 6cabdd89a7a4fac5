package wabridge

import "github.com/nyaruka/ezconf"

// Config is our top level configuration object
type Config struct {
	SentryDSN string `help:"the DSN used for logging errors to Sentry"`
	Address   string `help:"the network interface address wabridge will bind to"`
	Port      int    `help:"the port wabridge will listen on"`
	LogLevel  string `help:"the logging level wabridge should use"`
	Version   string `help:"the version that will be used in request and response headers"`

	DB    string `help:"URL describing how to connect to the tracking database, empty disables tracking"`
	Redis string `help:"URL describing how to connect to Redis for registration id caching, empty disables caching"`

	VaultURL            string `help:"the base URL of the vault holding the provider connection string"`
	VaultSecretName     string `help:"the name of the vault secret holding the provider connection string"`
	ConnectionStringEnv string `help:"the environment variable checked when the vault lookup yields nothing"`

	CRMBaseURL   string `help:"the base URL of the CRM web API"`
	CRMAuthToken string `help:"the bearer token used against the CRM web API"`

	ForwardOperation      string `help:"the CRM operation name the forwarder accepts"`
	DispatchURL           string `help:"explicit dispatch endpoint URL, overrides the CRM environment variable lookup"`
	DispatchURLSchemaName string `help:"the schema name of the CRM environment variable holding the dispatch URL"`

	DefaultLanguage string `help:"the template language assumed when the CRM event carries none"`

	AWSAccessKeyID     string `help:"the access key id used to presign attachment links"`
	AWSSecretAccessKey string `help:"the secret access key used to presign attachment links"`
	S3Region           string `help:"the S3 region of the attachment bucket"`
	S3SignHost         string `help:"hostname substring of attachment links that must be presigned before sending, empty disables presigning"`

	RabbitmqURL              string `help:"rabbitmq url, empty disables dispatch event publishing"`
	RabbitmqRetryPubAttempts int    `help:"rabbitmq retry attempts"`
	RabbitmqRetryPubDelay    int    `help:"rabbitmq retry delay"`
	DispatchesExchangeName   string `help:"dispatch events exchange name"`

	LibratoUsername string `help:"the username that will be used to authenticate to Librato"`
	LibratoToken    string `help:"the token that will be used to authenticate to Librato"`
}

// NewConfig returns a new default configuration object
func NewConfig() *Config {
	return &Config{
		Address:                  "",
		Port:                     8080,
		LogLevel:                 "error",
		Version:                  "Dev",
		VaultSecretName:          "wa-provider-connection-string",
		ConnectionStringEnv:      "WABRIDGE_CONNECTION_STRING",
		ForwardOperation:         "wa_outbound_send",
		DispatchURLSchemaName:    "wabridge_dispatch_url",
		DefaultLanguage:          DefaultTemplateLanguage,
		S3Region:                 "us-east-1",
		RabbitmqRetryPubAttempts: 3,
		RabbitmqRetryPubDelay:    1000,
		DispatchesExchangeName:   "dispatches.topic",
	}
}

// LoadConfig loads our configuration from the passed in filename
func LoadConfig(filename string) *Config {
	config := NewConfig()
	loader := ezconf.NewLoader(
		config,
		"wabridge", "Wabridge - a bridge between CRM journeys and WhatsApp template messaging",
		[]string{filename},
	)

	loader.MustLoad()
	return config
}
