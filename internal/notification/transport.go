package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"ms-flashpromo/internal/logger"
)

// Transport delivers one message to one user.
type Transport interface {
	Send(ctx context.Context, userID, message string) error
}

// LogTransport stands in for a real email or push provider and only logs.
type LogTransport struct {
	Channel string
	Logger  *logger.Logger
}

func (t *LogTransport) Send(ctx context.Context, userID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	headline, _, _ := strings.Cut(message, "\n")
	t.Logger.Debug(strings.ToUpper(t.Channel), fmt.Sprintf("-> %s: %s", userID, headline))
	return nil
}

// MultiChannel sends through every channel and succeeds if any channel does.
type MultiChannel struct {
	Channels []Transport
}

func (m *MultiChannel) Send(ctx context.Context, userID, message string) error {
	if len(m.Channels) == 0 {
		return errors.New("no notification channels configured")
	}
	var combined error
	delivered := false
	for _, ch := range m.Channels {
		if err := ch.Send(ctx, userID, message); err != nil {
			combined = errors.CombineErrors(combined, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return combined
}
