package notification

import (
	"fmt"
	"strings"
)

// Template supplies the title and message for a notification type. Both
// may contain {{key}} placeholders filled from the notification metadata.
type Template struct {
	Type    Type
	Title   string
	Message string
}

// TemplateEngine renders default titles and messages by notification type.
type TemplateEngine struct {
	templates map[Type]Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Type]Template)}
	for _, t := range builtInTemplates {
		e.templates[t.Type] = t
	}
	return e
}

var builtInTemplates = []Template{
	{TypeConsentRequest, "Consent requested", "{{requester_name}} asked to view your health records."},
	{TypeConsentApproved, "Consent approved", "Your request to view records was approved."},
	{TypeConsentDenied, "Consent denied", "Your request to view records was denied."},
	{TypePrescriptionCreated, "New prescription", "A prescription for {{medication}} was issued."},
	{TypePrescriptionUpdated, "Prescription updated", "Your prescription for {{medication}} changed."},
	{TypeConsultationNoteCreated, "New consultation note", "A note was added to your consultation on {{consultation_date}}."},
	{TypeConsultationNoteUpdated, "Consultation note updated", "A note on your consultation on {{consultation_date}} changed."},
	{TypeConsultationBooked, "New consultation booked", "A consultation was booked for {{consultation_date}} at {{consultation_time}}: {{reason}}"},
	{TypeConsultationUpdated, "Consultation updated", "Your consultation on {{consultation_date}} is now {{status}}."},
	{TypeRecordAccessGranted, "Records shared with you", "{{record_count}} health record(s) were shared with you until {{expires_at}}."},
	{TypeRecordAccessDenied, "Record access revoked", "Access to {{record_count}} shared health record(s) was revoked."},
	{TypeHealthAlert, "New health record", "A patient you care for uploaded \"{{record_title}}\" ({{record_type}})."},
}

// Render fills the template for typ from data. Placeholders without a value
// are left as-is.
func (e *TemplateEngine) Render(typ Type, data map[string]interface{}) (title, message string, err error) {
	t, ok := e.templates[typ]
	if !ok {
		return "", "", fmt.Errorf("no template for notification type %q", typ)
	}

	title, message = t.Title, t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := fmt.Sprint(v)
		title = strings.ReplaceAll(title, placeholder, value)
		message = strings.ReplaceAll(message, placeholder, value)
	}
	return title, message, nil
}
