package email

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
)

type templateText struct {
	subject string
	body    string
}

var templateTexts = map[model.NotificationTemplate]templateText{
	model.TemplateInvitationSent: {
		subject: "You're invited to join {{.clinic_name}}",
		body: `Hello {{.first_name}},

You have been invited to join {{.clinic_name}} as {{.staff_role}}.

Accept or decline here: {{.accept_url}}

This link expires at {{.expires_at}}.
`,
	},
	model.TemplateInvitationAccepted: {
		subject: "{{.work_email}} accepted your invitation",
		body:    "{{.work_email}} has joined {{.clinic_name}} as {{.staff_role}}.\n",
	},
	model.TemplateInvitationDeclined: {
		subject: "{{.work_email}} declined your invitation",
		body:    "{{.work_email}} declined the invitation to join {{.clinic_name}}.\n",
	},
	model.TemplateMembershipWelcome: {
		subject: "Welcome to {{.clinic_name}}",
		body:    "Hello {{.first_name}},\n\nYou are now a member of {{.clinic_name}} as {{.staff_role}}.\n",
	},
	model.TemplateDeclineConfirmed: {
		subject: "You declined the invitation to {{.clinic_name}}",
		body:    "Hello {{.first_name}},\n\nWe let {{.clinic_name}} know you declined. No account changes were made.\n",
	},
	model.TemplateInvitationCancelled: {
		subject: "Your invitation to {{.clinic_name}} was withdrawn",
		body:    "Hello {{.first_name}},\n\nThe invitation to join {{.clinic_name}} has been cancelled.\n",
	},
	model.TemplateClinicVerified: {
		subject: "{{.clinic_name}} is verified",
		body:    "{{.clinic_name}} has been verified and is now live.\n",
	},
	model.TemplateClinicRejected: {
		subject: "{{.clinic_name}} verification was not approved",
		body:    "{{.clinic_name}} was not approved.\n\nReason: {{.notes}}\n",
	},
	model.TemplateClinicReopened: {
		subject: "{{.clinic_name}} is back in the verification queue",
		body:    "{{.clinic_name}} has been reopened for verification.\n",
	},
	model.TemplateStaffSuspended: {
		subject: "Your access to {{.clinic_name}} is suspended",
		body:    "Your membership at {{.clinic_name}} has been suspended.\n",
	},
	model.TemplateStaffTerminated: {
		subject: "Your membership at {{.clinic_name}} has ended",
		body:    "Your membership at {{.clinic_name}} has been terminated.\n",
	},
	model.TemplateStaffReactivated: {
		subject: "Your access to {{.clinic_name}} is restored",
		body:    "Your membership at {{.clinic_name}} is active again.\n",
	},
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Renderer turns notification requests into email messages.
type Renderer struct {
	templates map[model.NotificationTemplate]compiled
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[model.NotificationTemplate]compiled, len(templateTexts))}
	for name, text := range templateTexts {
		subject, err := template.New(string(name) + ".subject").Option("missingkey=zero").Parse(text.subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", name, err)
		}
		body, err := template.New(string(name) + ".body").Option("missingkey=zero").Parse(text.body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", name, err)
		}
		r.templates[name] = compiled{subject: subject, body: body}
	}
	return r, nil
}

func (r *Renderer) Render(req *model.NotificationRequest) (*Message, error) {
	tmpl, ok := r.templates[req.Template]
	if !ok {
		return nil, fmt.Errorf("unknown notification template %q", req.Template)
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, req.Payload); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", req.Template, err)
	}
	if err := tmpl.body.Execute(&body, req.Payload); err != nil {
		return nil, fmt.Errorf("render %s body: %w", req.Template, err)
	}
	return &Message{To: req.Recipient, Subject: subject.String(), Body: body.String()}, nil
}
