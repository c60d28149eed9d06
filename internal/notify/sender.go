package notify

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Message is one outgoing email with an HTML body.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	HTML    string
}

type Sender interface {
	Send(msg Message) error
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port int, from string) *SMTPSender {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@slotkeeper.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", strings.TrimSpace(host), port),
		from: from,
	}
}

func (s *SMTPSender) Send(msg Message) error {
	return smtp.SendMail(s.addr, nil, s.from, []string{msg.To}, []byte(buildMessage(s.from, msg)))
}

func buildMessage(from string, msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return b.String()
}
