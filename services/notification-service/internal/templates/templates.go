package templates

import (
	"fmt"
	"strings"
	"text/template"
)

// Kind names a message template. One kind per domain event the service
// reacts to.
type Kind string

const (
	KindConfirmation  Kind = "confirmation"
	KindDayBefore     Kind = "day_before"
	KindDayOf         Kind = "day_of"
	KindCancellation  Kind = "cancellation"
	KindWaitlistOffer Kind = "waitlist_offer"
)

// Data carries the fields the templates interpolate. Not every kind uses
// every field.
type Data struct {
	ClientName  string
	ServiceName string
	Date        string
	StartTime   string
	EndTime     string
	Reason      string
	OfferExpiry string
	StudioName  string
}

type Message struct {
	Subject string
	Body    string
}

var subjects = map[Kind]string{
	KindConfirmation:  "Your appointment is booked",
	KindDayBefore:     "Appointment reminder: tomorrow",
	KindDayOf:         "Appointment reminder: today",
	KindCancellation:  "Your appointment was cancelled",
	KindWaitlistOffer: "A slot opened up for you",
}

var bodies = template.Must(template.New("notifications").Parse(`
{{define "confirmation"}}Hi {{.ClientName}},

Your {{.ServiceName}} appointment is confirmed for {{.Date}} at {{.StartTime}}.

See you soon,
{{.StudioName}}{{end}}

{{define "day_before"}}Hi {{.ClientName}},

A reminder that your {{.ServiceName}} appointment is tomorrow, {{.Date}} at {{.StartTime}}.

{{.StudioName}}{{end}}

{{define "day_of"}}Hi {{.ClientName}},

Your {{.ServiceName}} appointment is today at {{.StartTime}}. We look forward to seeing you.

{{.StudioName}}{{end}}

{{define "cancellation"}}Hi {{.ClientName}},

Your {{.ServiceName}} appointment on {{.Date}} at {{.StartTime}} has been cancelled{{if .Reason}} ({{.Reason}}){{end}}.

{{.StudioName}}{{end}}

{{define "waitlist_offer"}}Hi {{.ClientName}},

Good news: a {{.ServiceName}} slot opened on {{.Date}} at {{.StartTime}}. It is held for you until {{.OfferExpiry}}. Book now to claim it.

{{.StudioName}}{{end}}
`))

// Render produces the message for a kind. Unknown kinds are an error so a
// bad event payload fails loudly instead of sending an empty email.
func Render(kind Kind, data Data) (Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown template kind %q", kind)
	}
	if data.StudioName == "" {
		data.StudioName = "Serenity Massage"
	}

	var sb strings.Builder
	if err := bodies.ExecuteTemplate(&sb, string(kind), data); err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, Body: strings.TrimSpace(sb.String())}, nil
}

// SMS renders the short form used for text messages.
func SMS(kind Kind, data Data) (string, error) {
	switch kind {
	case KindDayBefore:
		return fmt.Sprintf("Reminder: %s tomorrow %s at %s.", data.ServiceName, data.Date, data.StartTime), nil
	case KindDayOf:
		return fmt.Sprintf("Reminder: %s today at %s.", data.ServiceName, data.StartTime), nil
	case KindWaitlistOffer:
		return fmt.Sprintf("A %s slot opened %s at %s, held until %s.", data.ServiceName, data.Date, data.StartTime, data.OfferExpiry), nil
	case KindConfirmation:
		return fmt.Sprintf("Booked: %s on %s at %s.", data.ServiceName, data.Date, data.StartTime), nil
	case KindCancellation:
		return fmt.Sprintf("Cancelled: %s on %s at %s.", data.ServiceName, data.Date, data.StartTime), nil
	default:
		return "", fmt.Errorf("unknown template kind %q", kind)
	}
}
