package notify

import (
	"fmt"
	"time"

	"github.com/osteele/liquid"
)

type kind string

const (
	kindFirstOpen kind = "first_open"
	kindHot       kind = "hot"
	kindRevived   kind = "revived"
	kindFollowup  kind = "followup"
)

type template struct {
	subject *liquid.Template
	text    *liquid.Template
	html    *liquid.Template
}

type templateSet struct {
	engine *liquid.Engine
	byKind map[kind]template
}

const htmlOpen = `<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; padding: 20px;">`

const htmlClose = `</body>
</html>`

const rowStyle = `style="padding: 8px 15px 8px 0; color: #666; font-weight: bold;"`

var sources = map[kind][3]string{
	kindFirstOpen: {
		`{{ name }} read your message {{ elapsed }} after you sent it`,
		`{{ name }} read your message!
{{ elapsed }} after you sent it

To: {{ recipient }}
Subject: {{ subject }}
Opened: {{ opened_at | when }}
Location: {{ location }}

This is the first real open (excluding email privacy proxies).
`,
		htmlOpen + `
<h2 style="color: #27ae60;">{{ name | escape }} read your message!</h2>
<p style="font-size: 18px; color: #333;"><strong>{{ elapsed }}</strong> after you sent it</p>
<table style="border-collapse: collapse; margin-top: 15px;">
<tr><td ` + rowStyle + `>To:</td><td>{{ recipient | escape }}</td></tr>
<tr><td ` + rowStyle + `>Subject:</td><td>{{ subject | escape }}</td></tr>
<tr><td ` + rowStyle + `>Opened:</td><td>{{ opened_at | when }}</td></tr>
<tr><td ` + rowStyle + `>Location:</td><td>{{ location | escape }}</td></tr>
</table>
<p style="margin-top: 20px; color: #888; font-size: 12px;">This is the first real open (excluding email privacy proxies).</p>
` + htmlClose,
	},
	kindHot: {
		`Hot conversation! {{ name }} opened your email {{ open_count }} times today`,
		`Hot conversation!

{{ name }} has opened your email {{ open_count }} times in the last 24 hours. They might be interested!

To: {{ recipient }}
Subject: {{ subject }}
`,
		htmlOpen + `
<h2 style="color: #e74c3c;">Hot conversation!</h2>
<p style="color: #555; font-size: 16px;"><strong>{{ name | escape }}</strong> has opened your email <strong>{{ open_count }} times</strong> in the last 24 hours. They might be interested!</p>
<table style="border-collapse: collapse; margin-top: 15px;">
<tr><td ` + rowStyle + `>To:</td><td>{{ recipient | escape }}</td></tr>
<tr><td ` + rowStyle + `>Subject:</td><td>{{ subject | escape }}</td></tr>
</table>
` + htmlClose,
	},
	kindRevived: {
		`Old conversation revived! {{ name }} re-opened your email after {{ days }} days`,
		`Old conversation revived!

{{ name }} just re-opened your email {{ days }} days after first reading it. Good time to reach out!

To: {{ recipient }}
Subject: {{ subject }}
`,
		htmlOpen + `
<h2 style="color: #8e44ad;">Old conversation revived!</h2>
<p style="color: #555; font-size: 16px;"><strong>{{ name | escape }}</strong> just re-opened your email <strong>{{ days }} days</strong> after first reading it. Good time to reach out!</p>
<table style="border-collapse: collapse; margin-top: 15px;">
<tr><td ` + rowStyle + `>To:</td><td>{{ recipient | escape }}</td></tr>
<tr><td ` + rowStyle + `>Subject:</td><td>{{ subject | escape }}</td></tr>
</table>
` + htmlClose,
	},
	kindFollowup: {
		`Follow-up Reminder: {{ subject }}`,
		`Time to follow up?

Your email hasn't been opened in {{ days }} days. Consider sending a follow-up!

To: {{ recipient }}
Subject: {{ subject }}
Sent: {{ sent_at | when }}

This email has not been opened (excluding automated proxy prefetches).
`,
		htmlOpen + `
<h2 style="color: #e67e22;">Time to follow up?</h2>
<p style="color: #555; font-size: 16px;">Your email hasn't been opened in <strong>{{ days }} days</strong>. Consider sending a follow-up!</p>
<table style="border-collapse: collapse; margin-top: 15px;">
<tr><td ` + rowStyle + `>To:</td><td>{{ recipient | escape }}</td></tr>
<tr><td ` + rowStyle + `>Subject:</td><td>{{ subject | escape }}</td></tr>
<tr><td ` + rowStyle + `>Sent:</td><td>{{ sent_at | when }}</td></tr>
</table>
<p style="margin-top: 20px; color: #888; font-size: 12px;">This email has not been opened (excluding automated proxy prefetches).</p>
` + htmlClose,
	},
}

func newTemplateSet(loc *time.Location) (*templateSet, error) {
	engine := liquid.NewEngine()
	engine.RegisterFilter("when", func(v interface{}) string {
		t, ok := v.(time.Time)
		if !ok || t.IsZero() {
			return "unknown"
		}
		return t.In(loc).Format("January 02, 2006 at 03:04 PM MST")
	})

	ts := &templateSet{engine: engine, byKind: make(map[kind]template, len(sources))}
	for k, src := range sources {
		var tpl template
		parts := []**liquid.Template{&tpl.subject, &tpl.text, &tpl.html}
		for i, s := range src {
			parsed, err := engine.ParseString(s)
			if err != nil {
				return nil, fmt.Errorf("parse %s template %d: %w", k, i, err)
			}
			*parts[i] = parsed
		}
		ts.byKind[k] = tpl
	}
	return ts, nil
}

func (ts *templateSet) render(k kind, vars liquid.Bindings) (subject, text, html string, err error) {
	tpl, ok := ts.byKind[k]
	if !ok {
		return "", "", "", fmt.Errorf("no template for %s", k)
	}
	if subject, err = renderString(tpl.subject, vars); err != nil {
		return "", "", "", fmt.Errorf("render %s subject: %w", k, err)
	}
	if text, err = renderString(tpl.text, vars); err != nil {
		return "", "", "", fmt.Errorf("render %s text: %w", k, err)
	}
	if html, err = renderString(tpl.html, vars); err != nil {
		return "", "", "", fmt.Errorf("render %s html: %w", k, err)
	}
	return subject, text, html, nil
}

func renderString(t *liquid.Template, vars liquid.Bindings) (string, error) {
	out, err := t.RenderString(vars)
	if err != nil {
		return "", err
	}
	return out, nil
}
