package mailparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawSimpleMessage(t *testing.T) {
	raw := []byte("From: Alice <alice@example.com>\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: Quarterly report\r\n" +
		"Message-ID: <abc123@example.com>\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"\r\n" +
		"Please find the report attached.\r\n")

	email, err := ParseRaw(raw)
	require.NoError(t, err)

	assert.Equal(t, "abc123@example.com", email.MessageID)
	assert.Equal(t, "alice@example.com", email.From)
	assert.Equal(t, []string{"bob@example.org"}, email.To)
	assert.Equal(t, "Quarterly report", email.Subject)
	assert.Contains(t, email.Body, "Please find the report")
	assert.Equal(t, 2006, email.ReceivedAt.Year())
}

func TestParseRawMultipartPrefersTextPlain(t *testing.T) {
	raw := []byte("From: alice@example.com\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: multipart\r\n" +
		"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain text body\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html body</p>\r\n" +
		"--BOUNDARY--\r\n")

	email, err := ParseRaw(raw)
	require.NoError(t, err)

	assert.Contains(t, email.Body, "plain text body")
	assert.NotContains(t, email.Body, "<p>")
}

func TestParseRawInvalid(t *testing.T) {
	_, err := ParseRaw([]byte("this is not an rfc822 message"))
	assert.Error(t, err)
}

func TestParseRawNoMessageID(t *testing.T) {
	raw := []byte("From: alice@example.com\r\n" +
		"Subject: no id\r\n" +
		"\r\n" +
		"body\r\n")

	email, err := ParseRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "", email.MessageID)
}
