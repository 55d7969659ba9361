// Package views renders the HTML pages of the proctoring service.
package views

import (
	"context"
	_ "embed"
	"html/template"
	"io"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/scoring"
)

//go:embed report.html
var reportHTML string

var reportTmpl = template.Must(template.New("report").Funcs(funcs(context.Background(), "en")).Parse(reportHTML))

// funcs binds the template helpers to the request's localizer.
func funcs(ctx context.Context, lang string) template.FuncMap {
	return template.FuncMap{
		"lang": func() string { return lang },
		"t":    func(id string) string { return appI18n.T(ctx, id) },
		"session": func(id string) string {
			return appI18n.Td(ctx, "SessionN", map[string]any{"ID": id})
		},
		"flagged": func(n int) string { return appI18n.Tp(ctx, "FlaggedEvents", n) },
		"risk": func(r scoring.RiskLevel) string {
			return appI18n.T(ctx, "Risk"+string(r))
		},
		"clock": func(ms int64) string {
			return time.UnixMilli(ms).UTC().Format("15:04:05")
		},
	}
}

// SessionReport renders the analytics of one session as a standalone page.
func SessionReport(a scoring.Analytics, lang string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		tmpl, err := reportTmpl.Clone()
		if err != nil {
			return err
		}
		return tmpl.Funcs(funcs(ctx, lang)).Execute(w, a)
	})
}
