// -----------------------------------------------------------------------
// Report Service - renders batch results to CSV/JSON/text artifacts
// and builds the notification email
// -----------------------------------------------------------------------

package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
)

// Service is the output boundary: it receives the final result set
// from the orchestrator and owns all rendering. Nothing here feeds
// back into processing decisions.
type Service struct {
	outputDir string
	formats   map[string]bool
	mailer    interfaces.Mailer // may be nil
	logger    arbor.ILogger
}

// NewService creates a report service. mailer may be nil to disable
// the email notification.
func NewService(outputDir string, formats []string, mailer interfaces.Mailer, logger arbor.ILogger) *Service {
	enabled := make(map[string]bool, len(formats))
	for _, format := range formats {
		enabled[strings.ToLower(format)] = true
	}
	return &Service{
		outputDir: outputDir,
		formats:   enabled,
		mailer:    mailer,
		logger:    logger,
	}
}

// Publish writes the configured artifacts and sends the notification
// email when a mailer is configured. Returns the written file paths.
func (s *Service) Publish(ctx context.Context, run *models.RunRecord) ([]string, error) {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	stamp := run.FinishedAt.Format("20060102_150405")
	var written []string
	var attachments []interfaces.MailAttachment

	if s.formats["csv"] {
		content := renderCSV(run.Results)
		path := filepath.Join(s.outputDir, fmt.Sprintf("checkin_%s.csv", stamp))
		if err := os.WriteFile(path, content, 0644); err != nil {
			return written, fmt.Errorf("failed to write CSV report: %w", err)
		}
		written = append(written, path)
		attachments = append(attachments, interfaces.MailAttachment{
			Filename:    filepath.Base(path),
			ContentType: "text/csv",
			Content:     content,
		})
	}

	if s.formats["json"] {
		content, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return written, fmt.Errorf("failed to marshal run record: %w", err)
		}
		path := filepath.Join(s.outputDir, fmt.Sprintf("checkin_%s.json", stamp))
		if err := os.WriteFile(path, content, 0644); err != nil {
			return written, fmt.Errorf("failed to write JSON report: %w", err)
		}
		written = append(written, path)
		attachments = append(attachments, interfaces.MailAttachment{
			Filename:    filepath.Base(path),
			ContentType: "application/json",
			Content:     content,
		})
	}

	if s.formats["text"] {
		content := []byte(RenderSummary(run))
		path := filepath.Join(s.outputDir, fmt.Sprintf("checkin_%s.txt", stamp))
		if err := os.WriteFile(path, content, 0644); err != nil {
			return written, fmt.Errorf("failed to write text report: %w", err)
		}
		written = append(written, path)
	}

	s.logger.Info().
		Strs("files", written).
		Msg("Reports written")

	s.notify(ctx, run, attachments)
	return written, nil
}

// notify sends the run summary by email, best-effort.
func (s *Service) notify(ctx context.Context, run *models.RunRecord, attachments []interfaces.MailAttachment) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}

	subject := fmt.Sprintf("Check-in report: %d ok, %d failed", run.SuccessCount, run.FailureCount)
	if err := s.mailer.Send(ctx, subject, RenderSummary(run), attachments); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send report email")
		return
	}
	s.logger.Info().Msg("Report email sent")
}

// renderCSV writes one row per account result.
func renderCSV(results []models.AccountResult) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{
		"account_key", "username", "site", "base_url", "auth_mode",
		"success", "user_id", "quota_remaining", "quota_delta",
		"tokens", "attempts", "note", "failure_reason", "completed_at",
	})
	for _, r := range results {
		_ = w.Write([]string{
			r.AccountKey,
			r.Username,
			r.Site,
			r.BaseURL,
			string(r.AuthMode),
			strconv.FormatBool(r.Success),
			strconv.FormatInt(r.UserID, 10),
			strconv.FormatInt(r.QuotaRemaining, 10),
			strconv.FormatInt(r.QuotaDelta, 10),
			strconv.Itoa(len(r.Tokens)),
			strconv.Itoa(r.Attempts),
			r.Note,
			r.FailureReason,
			r.CompletedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	return buf.Bytes()
}

// RenderSummary builds the human-readable run summary used for the
// text artifact and the email body.
func RenderSummary(run *models.RunRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check-in run %s\n", run.ID)
	fmt.Fprintf(&b, "Started:  %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n", run.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Rounds:   %d\n", run.Rounds)
	fmt.Fprintf(&b, "Accounts: %d total, %d succeeded, %d failed\n\n", len(run.Results), run.SuccessCount, run.FailureCount)

	for _, r := range run.Results {
		status := "OK"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "[%s] %s", status, r.Label())
		if r.Success {
			fmt.Fprintf(&b, " quota=%d", r.QuotaRemaining)
			if r.QuotaDelta != 0 {
				fmt.Fprintf(&b, " (%+d)", r.QuotaDelta)
			}
			if r.Note != "" {
				fmt.Fprintf(&b, " note=%s", r.Note)
			}
		} else {
			fmt.Fprintf(&b, " reason=%s", r.FailureReason)
		}
		if r.Attempts > 1 {
			fmt.Fprintf(&b, " attempts=%d", r.Attempts)
		}
		b.WriteString("\n")
	}
	return b.String()
}
