package handler

import (
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DukeRupert/brandedflow/internal/csrf"
)

// TemplateFuncs returns the helpers available to the auth page templates.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		// title renders display names typed in lower case. Casers keep
		// state, so each call gets its own.
		"title": func(v interface{}) string {
			return cases.Title(language.English).String(fmt.Sprint(v))
		},
		"trim": strings.TrimSpace,

		// csrfField emits the hidden input every form posts back.
		"csrfField": func(token string) template.HTML {
			return template.HTML(fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`,
				csrf.FormFieldName, template.HTMLEscapeString(token)))
		},
	}
}
