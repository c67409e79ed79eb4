package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-gomail/gomail"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureDialer struct {
	sent []*gomail.Message
	err  error
}

func (c *captureDialer) DialAndSend(m ...*gomail.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m...)
	return nil
}

func TestNewSMTPSenderWithoutHost(t *testing.T) {
	assert.Nil(t, NewSMTPSender(SMTPConfig{}, zerolog.Nop()))
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	dialer := &captureDialer{}
	s := &SMTPSender{dialer: dialer, fromEmail: "care@clinic.test", fromName: "Clinic", logger: zerolog.Nop()}

	err := s.Send(context.Background(), EmailMessage{
		To:      "asha@example.test",
		ToName:  "Asha",
		Subject: "Your video consultation is ready",
		Body:    "Join at https://clinic.daily.co/consult-1",
	})
	require.NoError(t, err)
	require.Len(t, dialer.sent, 1)

	m := dialer.sent[0]
	assert.Equal(t, []string{"Your video consultation is ready"}, m.GetHeader("Subject"))

	var raw bytes.Buffer
	_, err = m.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "asha@example.test")
	assert.Contains(t, raw.String(), "care@clinic.test")
}

func TestSMTPSenderErrors(t *testing.T) {
	s := &SMTPSender{dialer: &captureDialer{err: errors.New("connection refused")}, logger: zerolog.Nop()}

	assert.ErrorIs(t, s.Send(context.Background(), EmailMessage{Subject: "x"}), ErrNoRecipient)

	err := s.Send(context.Background(), EmailMessage{To: "a@b.test", Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, EmailMessage{To: "a@b.test"}), context.Canceled)
}
