package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	mailFrom string
	rcpts    []string
	data     bytes.Buffer
	quit     bool
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeSMTPClient) Mail(from string) error { f.mailFrom = from; return nil }
func (f *fakeSMTPClient) Rcpt(rcpt string) error { f.rcpts = append(f.rcpts, rcpt); return nil }
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.data}, nil
}
func (f *fakeSMTPClient) Quit() error                      { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                     { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error       { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error             { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string)  { return false, "" }

func newFakeMailer(client smtpClient) *smtpMailer {
	server, _ := net.Pipe()
	return &smtpMailer{
		cfg: SMTPSettings{
			Enabled: true,
			Host:    "smtp.example.com",
			Port:    587,
			From:    "portal@example.com",
			Timeout: time.Second,
		},
		dialFn: func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
			return server, client, nil
		},
		authFn: func(smtpClient, SMTPSettings) error { return nil },
	}
}

func TestSendDisabled(t *testing.T) {
	mailer := &smtpMailer{cfg: SMTPSettings{Enabled: false}}

	err := mailer.Send(context.Background(), Message{To: []string{"ao@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSendDeliversMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newFakeMailer(client)

	msg := Message{
		To:      []string{"ao@example.com", "ao@example.com"},
		Subject: "You have been invited",
		Body:    "Follow the link to register.",
	}
	require.NoError(t, mailer.Send(context.Background(), msg))

	require.Equal(t, "portal@example.com", client.mailFrom)
	require.Equal(t, []string{"ao@example.com"}, client.rcpts)
	require.Contains(t, client.data.String(), "Subject: You have been invited")
	require.True(t, client.quit)
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	mailer := newFakeMailer(&fakeSMTPClient{})

	err := mailer.Send(context.Background(), Message{To: []string{"not-an-address"}})
	require.Error(t, err)
}

func TestFormatMessageEscapesHeaders(t *testing.T) {
	out := formatMessage("a@example.com", []string{"b@example.com"}, "line1\r\nline2", "body")
	require.Contains(t, out, "Subject: line1  line2")
}
