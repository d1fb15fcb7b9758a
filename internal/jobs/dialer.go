package jobs

import (
	"context"
	"log/slog"

	"github.com/kanakku/bankfeed/internal/email"
)

// IMAPDialer connects workers to real mailboxes.
type IMAPDialer struct {
	Logger *slog.Logger
}

func (d IMAPDialer) Dial(ctx context.Context, settings email.Settings) (MailboxSession, error) {
	session, err := email.Dial(ctx, settings, d.Logger)
	if err != nil {
		return nil, err
	}
	return session, nil
}
