package intake

import (
	"strings"
	"testing"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMIMESimpleText(t *testing.T) {
	raw := crlf(`From: Monitor <alerts@example.com>
To: oncall@example.com
Cc: ops@example.com
Subject: ** PROBLEM ** Host: db-01
Message-ID: <abc123@mail.example.com>
Date: Wed, 26 Aug 2026 10:15:00 +0000
Content-Type: text/plain; charset=utf-8

Service: postgres
State: CRITICAL
`)

	email, err := ParseMIME(raw)
	if err != nil {
		t.Fatalf("ParseMIME() error = %v", err)
	}

	if email.Subject != "** PROBLEM ** Host: db-01" {
		t.Errorf("Subject = %q", email.Subject)
	}
	if email.MessageID != "abc123@mail.example.com" {
		t.Errorf("MessageID = %q", email.MessageID)
	}
	if !strings.Contains(email.FromAddress, "alerts@example.com") {
		t.Errorf("FromAddress = %q", email.FromAddress)
	}
	if len(email.ToAddresses) != 1 || email.ToAddresses[0] != "oncall@example.com" {
		t.Errorf("ToAddresses = %v", email.ToAddresses)
	}
	if len(email.CcAddresses) != 1 || email.CcAddresses[0] != "ops@example.com" {
		t.Errorf("CcAddresses = %v", email.CcAddresses)
	}
	if email.DateHeader == nil {
		t.Error("Date header not parsed")
	}
	if !strings.Contains(email.BodyText, "State: CRITICAL") {
		t.Errorf("BodyText = %q", email.BodyText)
	}
	if email.Headers["Subject"] == "" {
		t.Error("raw headers not captured")
	}
	if len(email.RawMIME) != len(raw) {
		t.Error("raw bytes must be retained")
	}
}

func TestParseMIMEMultipartAlternative(t *testing.T) {
	raw := crlf(`From: alerts@example.com
To: oncall@example.com
Subject: alert
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

plain body
--b1
Content-Type: text/html; charset=utf-8

<p>html body</p>
--b1--
`)

	email, err := ParseMIME(raw)
	if err != nil {
		t.Fatalf("ParseMIME() error = %v", err)
	}

	if !strings.Contains(email.BodyText, "plain body") {
		t.Errorf("BodyText = %q", email.BodyText)
	}
	if !strings.Contains(email.BodyHTML, "html body") {
		t.Errorf("BodyHTML = %q", email.BodyHTML)
	}
	// Body() prefers the text part.
	if !strings.Contains(email.Body(), "plain body") {
		t.Errorf("Body() = %q", email.Body())
	}
}

func TestParseMIMECalendarAttachment(t *testing.T) {
	raw := crlf(`From: netops@example.com
To: oncall@example.com
Subject: [MW] switch maintenance
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b2"

--b2
Content-Type: text/plain; charset=utf-8

maintenance window attached
--b2
Content-Type: text/calendar; charset=utf-8
Content-Disposition: attachment; filename="maint.ics"

BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:mw-1@example.com
DTSTART:20260901T220000Z
END:VEVENT
END:VCALENDAR
--b2--
`)

	email, err := ParseMIME(raw)
	if err != nil {
		t.Fatalf("ParseMIME() error = %v", err)
	}

	if !strings.Contains(email.ICSContent, "BEGIN:VCALENDAR") {
		t.Errorf("ICSContent = %q", email.ICSContent)
	}
	if len(email.Attachments) != 1 {
		t.Fatalf("Attachments = %v", email.Attachments)
	}
	a := email.Attachments[0]
	if a.Filename != "maint.ics" || a.Size == 0 {
		t.Errorf("attachment = %+v", a)
	}
}

func TestParseMIMEGarbage(t *testing.T) {
	if _, err := ParseMIME([]byte("\x00\x01 not mail")); err == nil {
		t.Error("undecodable input must error")
	}
}
