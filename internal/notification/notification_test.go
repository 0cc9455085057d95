package notification

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/health777/health777/internal/logging"
)

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, Message) error { return errors.New("gateway down") }

func TestDeliver(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "json")
	msg := Message{Kind: KindVerificationCode, Destination: "13800000000", Body: "123456"}

	require.True(t, Deliver(ctx, NewLoggerNotifier(logger), logger, msg))
	require.Contains(t, buf.String(), `"kind":"verification_code"`)

	buf.Reset()
	require.False(t, Deliver(ctx, failingNotifier{}, logger, msg))
	require.Contains(t, buf.String(), "138****0000")
	require.NotContains(t, buf.String(), "13800000000")

	require.False(t, Deliver(ctx, nil, logger, msg))
}

func TestMask(t *testing.T) {
	require.Equal(t, "139****0001", Mask("13900000001"))
	require.Equal(t, "****", Mask("123"))
}
