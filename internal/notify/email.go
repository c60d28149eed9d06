package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"

	"github.com/rs/zerolog"
)

var ErrNotConfigured = errors.New("email notifications not configured")

const calendarStamp = "20060102T150405Z"

var (
	clientTemplate = template.Must(template.New("client").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Booking confirmed</title></head>
<body style="font-family: system-ui, sans-serif; max-width: 560px; margin: 0 auto; padding: 24px;">
<h1 style="font-size: 20px;">Booking confirmed</h1>
<p>Hi {{.ClientName}},</p>
<p>Your session with <strong>{{.ProfessionalName}}</strong> is confirmed.</p>
<ul>
<li><strong>What:</strong> {{.EventName}}</li>
<li><strong>When:</strong> {{.StartTime}} ({{.DurationMinutes}} min){{if gt .Sessions 1}}, weekly for {{.Sessions}} sessions{{end}}</li>
{{if .Location}}<li><strong>Where:</strong> {{.Location}}</li>{{end}}
</ul>
<p><a href="{{.CalendarURL}}">Add to calendar</a></p>
{{if .ManageURL}}<p><a href="{{.ManageURL}}">Manage this booking</a></p>{{end}}
</body></html>`))

	professionalTemplate = template.Must(template.New("professional").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>New booking</title></head>
<body style="font-family: system-ui, sans-serif; max-width: 560px; margin: 0 auto; padding: 24px;">
<h1 style="font-size: 20px;">New booking</h1>
<p>{{.ClientName}} has booked a session.</p>
<ul>
<li><strong>Event:</strong> {{.EventName}}</li>
<li><strong>When:</strong> {{.StartTime}} ({{.DurationMinutes}} min){{if gt .Sessions 1}}, weekly for {{.Sessions}} sessions{{end}}</li>
<li><strong>Client:</strong> {{.ClientName}} &lt;{{.ClientEmail}}&gt;, {{.ClientPhone}}</li>
{{if .Location}}<li><strong>Where:</strong> {{.Location}}</li>{{end}}
{{if .Notes}}<li><strong>Notes:</strong> {{.Notes}}</li>{{end}}
</ul>
</body></html>`))
)

type emailData struct {
	ClientName       string
	ClientEmail      string
	ClientPhone      string
	ProfessionalName string
	EventName        string
	StartTime        string
	DurationMinutes  int
	Sessions         int
	Location         string
	Notes            string
	CalendarURL      string
	ManageURL        string
}

// EmailNotifier mails the client and the professional after a reservation.
// A notifier without a sender reports ErrNotConfigured.
type EmailNotifier struct {
	sender  Sender
	baseURL string
	logger  *zerolog.Logger
}

func NewEmailNotifier(sender Sender, baseURL string, logger *zerolog.Logger) *EmailNotifier {
	l := logger.With().Str("component", "notify").Logger()
	return &EmailNotifier{sender: sender, baseURL: strings.TrimRight(baseURL, "/"), logger: &l}
}

func (n *EmailNotifier) NotifyBookingCreated(ctx context.Context, note domain.Notification) error {
	if n.sender == nil {
		return ErrNotConfigured
	}
	if len(note.Bookings) == 0 || note.EventType == nil || note.Owner == nil || strings.TrimSpace(note.Owner.Email) == "" {
		return errors.New("notification is missing booking, event type or professional email")
	}

	data := n.compose(note)
	first := note.Bookings[0]
	replyTo := strings.TrimSpace(note.Owner.Email)

	var errs []error
	if email := strings.TrimSpace(first.Email); email != "" {
		body, err := render(clientTemplate, data)
		if err != nil {
			return err
		}
		msg := Message{
			To:      email,
			ReplyTo: replyTo,
			Subject: fmt.Sprintf("Booking confirmed: %s with %s", data.EventName, data.ProfessionalName),
			HTML:    body,
		}
		if err := n.send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("client email: %w", err))
		}
	}

	body, err := render(professionalTemplate, data)
	if err != nil {
		return err
	}
	msg := Message{
		To:      replyTo,
		ReplyTo: replyTo,
		Subject: fmt.Sprintf("New booking: %s – %s", data.ClientName, data.EventName),
		HTML:    body,
	}
	if err := n.send(ctx, msg); err != nil {
		errs = append(errs, fmt.Errorf("professional email: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	n.logger.Debug().Int64("booking_id", first.ID).Str("owner_id", first.OwnerID).Msg("Booking confirmation sent")
	return nil
}

// send gives up early when ctx is already done; net/smtp itself is not context aware.
func (n *EmailNotifier) send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.sender.Send(msg)
}

func (n *EmailNotifier) compose(note domain.Notification) emailData {
	first := note.Bookings[0]
	et := note.EventType

	clientName := first.FullName()
	if clientName == "" {
		clientName = "Guest"
	}
	proName := strings.TrimSpace(note.Owner.FullName)
	if proName == "" {
		proName = "Your host"
	}
	eventName := strings.TrimSpace(et.Name)
	if eventName == "" {
		eventName = "Session"
	}
	duration := first.DurationMinutes
	if duration <= 0 {
		duration = models.DefaultDurationMinutes
	}

	data := emailData{
		ClientName:       clientName,
		ClientEmail:      first.Email,
		ClientPhone:      first.Phone,
		ProfessionalName: proName,
		EventName:        eventName,
		StartTime:        formatStart(first.StartAt, et.TimeZone),
		DurationMinutes:  duration,
		Sessions:         len(note.Bookings),
		Location:         et.Location,
		Notes:            first.Notes,
		CalendarURL:      CalendarURL(eventName, first.StartAt, duration),
	}
	if n.baseURL != "" {
		data.ManageURL = fmt.Sprintf("%s/booking/%d", n.baseURL, first.ID)
	}
	return data
}

// CalendarURL builds a Google Calendar "add event" link for one session.
func CalendarURL(title string, start time.Time, durationMinutes int) string {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", title)
	q.Set("dates", start.UTC().Format(calendarStamp)+"/"+end.UTC().Format(calendarStamp))
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}

// formatStart renders the start in the event type's zone, falling back to UTC.
func formatStart(t time.Time, zone string) string {
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return t.In(loc).Format("Monday, January 2, 2006 at 15:04 MST")
}

func render(t *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}
