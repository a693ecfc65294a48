// Package email renders reminder and digest notifications from embedded
// html/template and text/template files.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Kind names a template pair under templates/.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindDigest   Kind = "digest"
)

// RenderedEmail holds the rendered content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// ReminderData is the content of a single follow-up reminder.
type ReminderData struct {
	RecipientName string
	LeadName      string
	LeadPhone     string
	ScheduledDate string // YYYY-MM-DD
	ScheduledTime string // HH:MM
	Timezone      string
	Note          string
}

// DigestItem is one follow-up line in a digest.
type DigestItem struct {
	LeadName      string
	LeadPhone     string
	ScheduledDate string
	ScheduledTime string
	Note          string
}

// DigestData is the content of a daily digest.
type DigestData struct {
	RecipientName string
	Date          string // local date the digest covers
	Overdue       []DigestItem
	DueToday      []DigestItem
}

// Total returns the number of items in the digest.
func (d DigestData) Total() int {
	return len(d.Overdue) + len(d.DueToday)
}

// templateData is the value passed to both template flavours.
type templateData struct {
	Subject string
	Heading string
	Payload any
}

// Renderer renders embedded templates. It is safe for concurrent use once
// constructed.
type Renderer struct {
	htmlTemplates map[Kind]*template.Template
	textTemplates map[Kind]*texttemplate.Template
}

// NewRenderer parses the embedded templates. Returns an error if any
// template fails to parse.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		htmlTemplates: make(map[Kind]*template.Template),
		textTemplates: make(map[Kind]*texttemplate.Template),
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	funcs := map[string]any{"friendlyDate": friendlyDate}

	for _, kind := range []Kind{KindReminder, KindDigest} {
		name := string(kind)

		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Funcs(funcs).Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Funcs(funcs).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl
	}

	return r, nil
}

// RenderReminder renders the per-task reminder.
func (r *Renderer) RenderReminder(data ReminderData) (RenderedEmail, error) {
	lead := data.LeadName
	if lead == "" {
		lead = "a lead"
		data.LeadName = lead
	}
	subject := fmt.Sprintf("Follow-up reminder: %s at %s", lead, data.ScheduledTime)
	return r.render(KindReminder, templateData{
		Subject: subject,
		Heading: fmt.Sprintf("Follow up with %s", lead),
		Payload: data,
	})
}

// RenderDigest renders the daily digest.
func (r *Renderer) RenderDigest(data DigestData) (RenderedEmail, error) {
	subject := fmt.Sprintf("Your follow-ups for %s: %d due today", friendlyDate(data.Date), len(data.DueToday))
	if n := len(data.Overdue); n > 0 {
		subject = fmt.Sprintf("%s, %d overdue", subject, n)
	}
	return r.render(KindDigest, templateData{
		Subject: subject,
		Heading: "Today's follow-ups",
		Payload: data,
	})
}

func (r *Renderer) render(kind Kind, data templateData) (RenderedEmail, error) {
	htmlTmpl, ok := r.htmlTemplates[kind]
	if !ok {
		return RenderedEmail{}, fmt.Errorf("renderer: no HTML template for %q", kind)
	}
	txtTmpl, ok := r.textTemplates[kind]
	if !ok {
		return RenderedEmail{}, fmt.Errorf("renderer: no text template for %q", kind)
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("renderer: failed to render HTML for %q: %w", kind, err)
	}
	var txtBuf bytes.Buffer
	if err := txtTmpl.Execute(&txtBuf, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("renderer: failed to render text for %q: %w", kind, err)
	}

	return RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

// friendlyDate turns "2026-02-05" into "Thu, Feb 5". Unparseable input is
// returned unchanged.
func friendlyDate(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return d.Format("Mon, Jan 2")
}
