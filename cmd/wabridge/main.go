package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/evalphobia/logrus_sentry"
	"github.com/gomodule/redigo/redis"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/crm"
	"github.com/chatbridge/wabridge/dispatch"
	"github.com/chatbridge/wabridge/events"
	"github.com/chatbridge/wabridge/forwarder"
	"github.com/chatbridge/wabridge/secrets"
	"github.com/chatbridge/wabridge/tracking"
)

var version = "Dev"

func main() {
	config := wabridge.LoadConfig("wabridge.toml")

	// if we have a custom version, use it
	if version != "Dev" {
		config.Version = version
	}

	// configure our logger
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level '%s'", level)
	}
	logrus.SetLevel(level)

	// if we have a DSN entry, try to initialize it
	if config.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(config.SentryDSN, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel})
		hook.Timeout = 0
		hook.StacktraceConfiguration.Enable = true
		hook.StacktraceConfiguration.Skip = 4
		hook.StacktraceConfiguration.Context = 5
		if err != nil {
			logrus.Fatalf("Invalid sentry DSN: '%s': %s", config.SentryDSN, err)
		}
		logrus.StandardLogger().Hooks.Add(hook)
	}

	// tracking store, best effort audit rows for successful sends
	var trackingStore tracking.Store = tracking.NullStore{}
	if config.DB != "" {
		store, err := tracking.NewPostgresStore(config.DB)
		if err != nil {
			logrus.Fatalf("Error connecting to tracking database: %s", err)
		}
		defer store.Close()
		trackingStore = store
	} else {
		logrus.Warn("No tracking database configured, send records will be dropped")
	}

	// redis pool for registration id caching
	var redisPool *redis.Pool
	if config.Redis != "" {
		redisPool = newRedisPool(config.Redis)
	}

	crmClient := crm.NewWebClient(config.CRMBaseURL, config.CRMAuthToken, redisPool)

	var signer *crm.AttachmentSigner
	if config.S3SignHost != "" {
		signer = crm.NewAttachmentSigner(config.AWSAccessKeyID, config.AWSSecretAccessKey, config.S3Region, config.S3SignHost)
	}

	// dispatch events client
	var eventsClient events.Client = events.NullClient{}
	if config.RabbitmqURL != "" {
		client, err := events.NewRMQDispatchEventsClient(
			config.RabbitmqURL,
			config.RabbitmqRetryPubAttempts,
			config.RabbitmqRetryPubDelay,
			config.DispatchesExchangeName,
		)
		if err != nil {
			logrus.WithError(err).Error("Error creating RabbitMQ dispatch events client")
		} else {
			eventsClient = client
			logrus.Info("RabbitMQ dispatch events client initialized")
		}
	} else {
		logrus.Warn("RabbitMQ URL not configured, dispatch events will be dropped")
	}

	secretSource := secrets.NewVaultSource(config.VaultURL, config.VaultSecretName, config.ConnectionStringEnv)

	dispatchService := dispatch.NewService(secretSource, dispatch.ACSSenderFactory, trackingStore, eventsClient)
	urls := forwarder.NewURLResolver(config.DispatchURL, config.DispatchURLSchemaName, crmClient, nil)
	forwardService := forwarder.NewService(crmClient, signer, urls, config.ForwardOperation, config.DefaultLanguage)

	server := wabridge.NewServer(config)
	server.Router().Post("/send", dispatchService.Handle)
	server.Router().Post("/forward", forwardService.Handle)

	err = server.Start()
	if err != nil {
		logrus.Fatalf("Error starting server: %s", err)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	logrus.WithField("comp", "main").WithField("signal", <-ch).Info("stopping")

	server.Stop()
}

// newRedisPool creates a connection pool from a redis URL of the form
// redis://[:password@]host:port/db
func newRedisPool(redisURL string) *redis.Pool {
	parsed, err := url.Parse(redisURL)
	if err != nil {
		logrus.Fatalf("Invalid redis URL '%s'", redisURL)
	}

	return &redis.Pool{
		Wait:        true,
		MaxActive:   8,
		MaxIdle:     4,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			conn, err := redis.Dial("tcp", fmt.Sprintf("%s", parsed.Host))
			if err != nil {
				return nil, err
			}

			// if our URL includes a password, authenticate with it
			if parsed.User != nil {
				pass, authRequired := parsed.User.Password()
				if authRequired {
					if _, err := conn.Do("AUTH", pass); err != nil {
						conn.Close()
						return nil, err
					}
				}
			}

			// select our database if set
			db := strings.TrimLeft(parsed.Path, "/")
			if db != "" {
				if _, err := conn.Do("SELECT", db); err != nil {
					conn.Close()
					return nil, err
				}
			}

			return conn, nil
		},
	}
}
