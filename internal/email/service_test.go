package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestSMTPService_Send(t *testing.T) {
	dialer := &fakeDialer{}
	svc := NewService(dialer, "security@example.com")
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, []string{"a@example.com", "b@example.com"}, "hello", "body"))
	require.Len(t, dialer.sent, 1)
	m := dialer.sent[0]
	assert.Equal(t, []string{"security@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"hello"}, m.GetHeader("Subject"))

	assert.Error(t, svc.Send(ctx, nil, "hello", "body"))
	assert.Len(t, dialer.sent, 1)

	dialer.err = errors.New("connection refused")
	assert.ErrorContains(t, svc.Send(ctx, []string{"a@example.com"}, "hello", "body"), "connection refused")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, svc.Send(cancelled, []string{"a@example.com"}, "hello", "body"), context.Canceled)
}
