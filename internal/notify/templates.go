package notify

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"schoolcomm/internal/domain"
)

// Recipient-facing bodies, one template per intent and language.
var recipientTemplates = map[string]string{
	"daily_update.en": `📚 Daily Update for {{.ClassName}}

Subject: {{.Subject}}
Topic Covered: {{.Topic}}
📝 Homework: {{.Homework}}
Understanding Level: {{.Understanding}}

Have a great day! 🌟`,

	"daily_update.ne": `📚 {{.ClassName}} को लागि दैनिक अपडेट

विषय: {{.Subject}}
पढाइएको विषय: {{.Topic}}
📝 गृहकार्य: {{.Homework}}
बुझाइको स्तर: {{.Understanding}}

तपाईंको दिन शुभ रहोस्! 🌟`,

	"announcement.en": `📢 School Announcement

📌 {{.Title}}

{{.Body}}

For more details, contact the school office. 📞`,

	"announcement.ne": `📢 विद्यालयबाट सूचना

📌 {{.Title}}

{{.Body}}

थप जानकारीका लागि विद्यालय कार्यालयमा सम्पर्क गर्नुहोस्। 📞`,
}

// Sender-facing replies.
const (
	helpText = `❌ Unknown message format. Please use one of these formats:

📚 Daily Update:
Class: Grade 5A
Subject: Mathematics
Topic: Addition and Subtraction
Homework: Complete exercises 1-10
Understanding: Good

📅 Attendance:
Attendance: P,P,A,P,P

📢 Announcement (Admin only):
Announcement: School Holiday
Message: Tomorrow is a public holiday.`

	ackDailyUpdate  = "✅ Daily update for %s saved successfully. Messages will be sent to parents shortly."
	ackAttendance   = "✅ Attendance for %s saved successfully."
	ackAnnouncement = "✅ Announcement sent successfully to all parents in the school."

	errTeacherNotRegistered = "❌ Error: Teacher not registered. Please contact school admin."
	errAdminNotRegistered   = "❌ Error: Admin not registered. Please contact system administrator."
	errClassMismatch        = "❌ Error: You are not assigned to class \"%s\". Your class is \"%s\"."
	errProcessing           = "❌ Sorry, there was an error processing your message. Please try again or contact support."
)

// Renderer produces localized recipient bodies. Unknown languages fall back
// to English.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() *Renderer {
	root := template.New("recipient").Option("missingkey=error")
	for name, text := range recipientTemplates {
		template.Must(root.New(name).Parse(text))
	}
	return &Renderer{tmpl: root}
}

// Render executes the template for kind in lang with data.
func (r *Renderer) Render(kind domain.IntentKind, lang domain.Language, data any) (string, error) {
	t := r.tmpl.Lookup(string(kind) + "." + string(lang))
	if t == nil {
		t = r.tmpl.Lookup(string(kind) + "." + string(domain.LanguageEnglish))
	}
	if t == nil {
		return "", fmt.Errorf("no template for %s", kind)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s/%s: %w", kind, lang, err)
	}
	return sb.String(), nil
}

// rejectionText returns the reply for an error from a handler.
func rejectionText(err error) string {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		if authErr.Required == domain.RoleAdmin {
			return errAdminNotRegistered
		}
		return errTeacherNotRegistered
	}
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) && vErr.Reason == domain.ClassMismatch {
		return fmt.Sprintf(errClassMismatch, vErr.Requested, vErr.Assigned)
	}
	return errProcessing
}
