// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/vendor-dispatch/internal/model"
)

// RenderTemplate fills the template's declared variables from the vendor.
// Undeclared placeholders, and declared ones the vendor has no value for,
// stay in the text verbatim.
func RenderTemplate(t *model.Template, v *model.Vendor) model.RenderedMessage {
	fields := v.Fields()
	data := make(map[string]string, len(t.Variables))
	for _, name := range t.Variables {
		if val, ok := fields[name]; ok {
			data[name] = val
		}
	}
	return model.RenderedMessage{
		Subject: RenderString(t.Subject, data),
		Body:    RenderString(t.Body, data),
	}
}

// RenderString replaces every {key} in one pass, so substituted values are
// never themselves expanded.
func RenderString(template string, data map[string]string) string {
	if len(data) == 0 || template == "" {
		return template
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
