package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"leadpilot/engine"
	"leadpilot/models"
	"leadpilot/store"
)

// TemplateResolver resolves a step's content reference (template id or
// inline subject/body) and substitutes lead variables like {{.FirstName}}.
// It implements engine.ContentResolver; a deleted template surfaces as
// engine.ErrNotFound, which the scheduler treats as transient.
type TemplateResolver struct {
	store store.Store
}

func NewTemplateResolver(s store.Store) *TemplateResolver {
	return &TemplateResolver{store: s}
}

var _ engine.ContentResolver = (*TemplateResolver)(nil)

func (r *TemplateResolver) Resolve(ctx context.Context, step *models.SequenceStep, lead *models.Lead) (engine.Message, error) {
	subject, body := step.Subject, step.Body
	if step.TemplateID != nil {
		tpl, err := r.store.GetTemplate(ctx, *step.TemplateID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return engine.Message{}, fmt.Errorf("%w: template %d", engine.ErrNotFound, *step.TemplateID)
			}
			return engine.Message{}, err
		}
		subject, body = tpl.Subject, tpl.HTMLContent
	}

	data := leadVars(lead)
	renderedSubject, err := renderText(subject, data)
	if err != nil {
		return engine.Message{}, fmt.Errorf("rendering subject: %w", err)
	}
	renderedBody, err := renderHTML(body, data)
	if err != nil {
		return engine.Message{}, fmt.Errorf("rendering body: %w", err)
	}
	return engine.Message{Subject: renderedSubject, Body: renderedBody}, nil
}

func leadVars(lead *models.Lead) map[string]string {
	return map[string]string{
		"FirstName": lead.FirstName,
		"LastName":  lead.LastName,
		"Company":   lead.Company,
		"Email":     lead.Email,
	}
}

func renderText(content string, data map[string]string) (string, error) {
	tpl, err := texttemplate.New("subject").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(content string, data map[string]string) (string, error) {
	tpl, err := htmltemplate.New("body").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
