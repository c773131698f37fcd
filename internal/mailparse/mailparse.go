package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
)

// ParseRaw parses a raw RFC822 message into the core Email form used by the
// detection pipeline
func ParseRaw(raw []byte) (*core.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return FromMessage(msg)
}

// FromMessage converts a net/mail message into a core Email
func FromMessage(msg *mail.Message) (*core.Email, error) {
	body, err := extractText(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract message body: %w", err)
	}

	email := &core.Email{
		MessageID: strings.Trim(msg.Header.Get("Message-ID"), "<>"),
		From:      msg.Header.Get("From"),
		Subject:   msg.Header.Get("Subject"),
		Body:      body,
		Headers:   map[string][]string(msg.Header),
	}

	if addr, err := mail.ParseAddress(email.From); err == nil {
		email.From = addr.Address
	}
	if tos, err := msg.Header.AddressList("To"); err == nil {
		for _, to := range tos {
			email.To = append(email.To, to.Address)
		}
	}
	if date, err := msg.Header.Date(); err == nil {
		email.ReceivedAt = date
	} else {
		email.ReceivedAt = time.Now()
	}

	return email, nil
}

// extractText pulls the text content from a message, preferring text/plain
// parts of multipart bodies
func extractText(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		bodyBytes, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(bodyBytes), nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		bodyBytes, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(bodyBytes), nil
	}

	mr := multipart.NewReader(msg.Body, boundary)
	var textContent bytes.Buffer

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Return whatever text was collected before the bad part
			break
		}

		partType := strings.ToLower(part.Header.Get("Content-Type"))
		if strings.Contains(partType, "text/plain") {
			partBytes, err := io.ReadAll(part)
			if err != nil {
				continue
			}
			textContent.Write(partBytes)
			textContent.WriteString("\n")
		}
		// Attachments and nested multiparts are skipped; the pipeline
		// scores on text and URLs only.
	}

	if textContent.Len() > 0 {
		return textContent.String(), nil
	}
	return "[No text content found in multipart message]", nil
}
