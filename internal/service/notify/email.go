package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// メールを送信するステータスと件名
var emailSubjects = map[model.BookingStatus]string{
	model.BookingStatusAccepted:  "Your booking for %s has been accepted",
	model.BookingStatusCancelled: "Your booking for %s has been cancelled",
}

// SendsEmail はステータスがメール送信の対象かを返します
func SendsEmail(status model.BookingStatus) bool {
	_, ok := emailSubjects[status]
	return ok
}

type emailData struct {
	Name      string
	ItemTitle string
	Verb      string
	StartDate string
	EndDate   string
	Notes     string
}

const textBody = `Hello {{if .Name}}{{.Name}}{{else}}there{{end}},

Your booking for "{{.ItemTitle}}" has been {{.Verb}}.

Period: {{.StartDate}} - {{.EndDate}}
{{- if .Notes}}
Notes: {{.Notes}}
{{- end}}
`

const htmlBody = `<!DOCTYPE html>
<html>
<body>
<p>Hello {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Your booking for <strong>{{.ItemTitle}}</strong> has been {{.Verb}}.</p>
<table>
<tr><th align="left">Period</th><td>{{.StartDate}} - {{.EndDate}}</td></tr>
{{- if .Notes}}
<tr><th align="left">Notes</th><td>{{.Notes}}</td></tr>
{{- end}}
</table>
</body>
</html>
`

var (
	textTemplate = texttemplate.Must(texttemplate.New("text").Parse(textBody))
	htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody))
)

// BuildEmail はステータス変更を宛先向けのメールに変換します
// メール送信対象外のステータスの場合はエラーを返します
func BuildEmail(change model.StatusChange, recipient model.Recipient, from string) (model.Email, error) {
	subject, ok := emailSubjects[change.Status]
	if !ok {
		return model.Email{}, fmt.Errorf("no email template for status %s", change.Status)
	}

	data := emailData{
		Name:      recipient.Name,
		ItemTitle: change.ItemTitle,
		Verb:      verbFor(change.Status),
		StartDate: change.StartDate.UTC().Format(time.RFC1123),
		EndDate:   change.EndDate.UTC().Format(time.RFC1123),
	}
	if change.Notes != nil {
		data.Notes = *change.Notes
	}

	var text, html bytes.Buffer
	if err := textTemplate.Execute(&text, data); err != nil {
		return model.Email{}, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return model.Email{}, fmt.Errorf("failed to render html body: %w", err)
	}

	return model.Email{
		To:        recipient.Email,
		ToName:    recipient.Name,
		From:      from,
		Subject:   fmt.Sprintf(subject, change.ItemTitle),
		TextBody:  text.String(),
		HTMLBody:  html.String(),
		BookingID: change.BookingID,
	}, nil
}

func verbFor(status model.BookingStatus) string {
	switch status {
	case model.BookingStatusAccepted:
		return "accepted"
	case model.BookingStatusCancelled:
		return "cancelled"
	default:
		return string(status)
	}
}
