package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

var errInvalidRecipient = errors.New("invalid recipient")

// SMTPOptions parameterise the SMTP dispatcher.
type SMTPOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string
	Timeout   time.Duration
}

// SMTPDispatcher delivers notifications as plain-text mail.
type SMTPDispatcher struct {
	opts   SMTPOptions
	logger zerolog.Logger
}

// NewSMTPDispatcher constructs an SMTP dispatcher.
func NewSMTPDispatcher(opts SMTPOptions, logger zerolog.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{opts: opts, logger: logger.With().Str("component", "notify_smtp").Logger()}
}

// Dispatch builds every message first and then sends the batch over one connection.
// Notifications with an unparseable recipient are logged and left out of the batch.
func (d *SMTPDispatcher) Dispatch(ctx context.Context, batch []Notification) error {
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]*mail.Msg, 0, len(batch))
	for _, n := range batch {
		msg, err := d.buildMessage(n)
		if errors.Is(err, errInvalidRecipient) {
			d.logger.Warn().Err(err).Str("fingerprint", n.Fingerprint).Str("kind", string(n.Kind)).Msg("skipping notification")
			continue
		}
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	client, err := d.newClient()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msgs...); err != nil {
		return fmt.Errorf("send mail batch: %w", err)
	}

	d.logger.Info().Int("messages", len(msgs)).Str("host", d.opts.Host).Msg("mail batch delivered")
	return nil
}

func (d *SMTPDispatcher) buildMessage(n Notification) (*mail.Msg, error) {
	body, err := Body(n)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(d.opts.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", d.opts.From, err)
	}
	if err := msg.To(n.Contact); err != nil {
		return nil, fmt.Errorf("%w %q for %s: %v", errInvalidRecipient, n.Contact, n.Fingerprint, err)
	}
	msg.Subject(Subject(n))
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (d *SMTPDispatcher) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithTLSPortPolicy(tlsPolicy(d.opts.TLSPolicy)),
	}
	if d.opts.Port > 0 {
		opts = append(opts, mail.WithPort(d.opts.Port))
	}
	if d.opts.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(d.opts.Timeout))
	}
	if d.opts.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.opts.Username),
			mail.WithPassword(d.opts.Password),
		)
	}

	client, err := mail.NewClient(d.opts.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch strings.ToLower(name) {
	case "none", "notls":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

var _ Dispatcher = (*SMTPDispatcher)(nil)
