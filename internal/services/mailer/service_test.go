package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/adsum/internal/common"
	"github.com/ternarybob/adsum/internal/interfaces"
)

func TestIsConfigured(t *testing.T) {
	logger := common.GetLogger()

	service := NewService(common.MailConfig{}, logger)
	assert.False(t, service.IsConfigured())

	service = NewService(common.MailConfig{
		Host:     "smtp.example.com",
		Username: "u",
		Password: "p",
		From:     "from@example.com",
		To:       "to@example.com",
	}, logger)
	assert.True(t, service.IsConfigured())
}

func TestBuildMessage_PlainText(t *testing.T) {
	service := NewService(common.MailConfig{
		From:     "from@example.com",
		FromName: "Adsum",
		To:       "to@example.com",
	}, common.GetLogger())

	msg := service.buildMessage("Daily report", "all good", nil)

	assert.Contains(t, msg, "From: Adsum <from@example.com>")
	assert.Contains(t, msg, "Subject: Daily report")
	assert.Contains(t, msg, "Content-Type: text/plain")
	assert.Contains(t, msg, "all good")
	assert.NotContains(t, msg, "multipart/mixed")
}

func TestBuildMessage_WithAttachments(t *testing.T) {
	service := NewService(common.MailConfig{
		From: "from@example.com",
		To:   "to@example.com",
	}, common.GetLogger())

	msg := service.buildMessage("Daily report", "see attached", []interfaces.MailAttachment{
		{Filename: "run.csv", ContentType: "text/csv", Content: []byte("a,b\n1,2\n")},
		{Filename: "run.bin", Content: []byte{0x01, 0x02}},
	})

	assert.Contains(t, msg, "multipart/mixed")
	assert.Contains(t, msg, `filename="run.csv"`)
	assert.Contains(t, msg, "Content-Type: text/csv")
	// Missing content type falls back to octet-stream.
	assert.Contains(t, msg, "Content-Type: application/octet-stream")
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64")
	// The boundary closes the envelope.
	assert.True(t, strings.Contains(msg, "--\r\n"))
}

func TestEncodeBase64WithLineBreaks(t *testing.T) {
	long := make([]byte, 200)
	encoded := encodeBase64WithLineBreaks(long)

	for _, line := range strings.Split(encoded, "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	assert.NotEmpty(t, encoded)
}
