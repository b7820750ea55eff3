package interfaces

import (
	"context"

	"github.com/ternarybob/adsum/internal/models"
)

// RunStorage persists completed batch runs for history and
// post-mortem inspection.
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	LastRun(ctx context.Context) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	Close() error
}

// Mailer sends the end-of-run notification. The report service builds
// the message; delivery details live behind this interface.
type Mailer interface {
	IsConfigured() bool
	Send(ctx context.Context, subject, textBody string, attachments []MailAttachment) error
}

// MailAttachment is one file attached to a notification email.
type MailAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
