package tracking

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nyaruka/null"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Record is one audit row written after a successful send. Writes are best
// effort, a failed insert is logged and never fails the request that
// produced it.
type Record struct {
	MessageID             string      `db:"message_id"`
	RequestID             null.String `db:"request_id"`
	ChannelDefinitionID   null.String `db:"channel_definition_id"`
	ChannelRegistrationID string      `db:"channel_registration_id"`
	FromAddr              null.String `db:"from_addr"`
	ToAddr                string      `db:"to_addr"`
	TemplateName          string      `db:"template_name"`
	Status                null.String `db:"status"`
	CreatedOn             time.Time   `db:"created_on"`
}

// Store persists send records.
type Store interface {
	WriteSendRecord(ctx context.Context, record *Record) error
}

const insertSendRecordSQL = `
INSERT INTO
	wa_message_tracking(message_id, request_id, channel_definition_id, channel_registration_id, from_addr, to_addr, template_name, status, created_on)
			     VALUES(:message_id, :request_id, :channel_definition_id, :channel_registration_id, :from_addr, :to_addr, :template_name, :status, :created_on)
`

// PostgresStore writes send records to a Postgres table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the passed in database URL and verifies the
// connection with a ping.
func NewPostgresStore(url string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to tracking database")
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) WriteSendRecord(ctx context.Context, record *Record) error {
	if record.CreatedOn.IsZero() {
		record.CreatedOn = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, insertSendRecordSQL, record)
	if err != nil {
		return errors.Wrap(err, "error writing send record")
	}
	return nil
}

// Close releases the underlying database connections.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// NullStore drops all records, used when no tracking database is configured.
type NullStore struct{}

func (s NullStore) WriteSendRecord(ctx context.Context, record *Record) error {
	logrus.WithFields(logrus.Fields{
		"message_id": record.MessageID,
		"to":         record.ToAddr,
		"template":   record.TemplateName,
	}).Debug("tracking store not configured, dropping send record")
	return nil
}
