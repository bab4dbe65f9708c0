package intake

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"alert_worker/core/domain"

	"github.com/emersion/go-message/mail"
)

// ParseMIME decodes an RFC822 message into a RawEmail: headers, text and
// HTML bodies, calendar parts and attachment metadata. The raw bytes are
// kept on the entity for later reprocessing.
func ParseMIME(raw []byte) (*domain.RawEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create mail reader: %w", err)
	}

	email := &domain.RawEmail{
		Headers: make(map[string]string),
		RawMIME: raw,
	}

	h := mr.Header
	if subject, err := h.Subject(); err == nil {
		email.Subject = subject
	}
	if msgID, err := h.MessageID(); err == nil {
		email.MessageID = msgID
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		utc := date.UTC()
		email.DateHeader = &utc
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.FromAddress = from[0].String()
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			email.ToAddresses = append(email.ToAddresses, addr.Address)
		}
	}
	if cc, err := h.AddressList("Cc"); err == nil {
		for _, addr := range cc {
			email.CcAddresses = append(email.CcAddresses, addr.Address)
		}
	}

	fields := h.Fields()
	for fields.Next() {
		email.Headers[fields.Key()] = fields.Value()
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed part should not lose what we already decoded.
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := header.ContentType()
			body, rerr := io.ReadAll(part.Body)
			if rerr != nil {
				continue
			}
			assignBody(email, contentType, body)

		case *mail.AttachmentHeader:
			contentType, _, _ := header.ContentType()
			filename, _ := header.Filename()
			body, rerr := io.ReadAll(part.Body)
			if rerr != nil {
				continue
			}
			if isCalendar(contentType, filename) && email.ICSContent == "" {
				email.ICSContent = string(body)
			}
			email.Attachments = append(email.Attachments, domain.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        len(body),
			})
		}
	}

	return email, nil
}

func assignBody(email *domain.RawEmail, contentType string, body []byte) {
	switch {
	case strings.HasPrefix(contentType, "text/plain"):
		if email.BodyText == "" {
			email.BodyText = string(body)
		}
	case strings.HasPrefix(contentType, "text/html"):
		if email.BodyHTML == "" {
			email.BodyHTML = string(body)
		}
	case strings.HasPrefix(contentType, "text/calendar"):
		if email.ICSContent == "" {
			email.ICSContent = string(body)
		}
	}
}

func isCalendar(contentType, filename string) bool {
	return strings.HasPrefix(contentType, "text/calendar") ||
		strings.HasSuffix(strings.ToLower(filename), ".ics")
}
