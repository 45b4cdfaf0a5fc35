package notify

import (
	"fmt"
	"strings"
	"text/template"
)

var bodyTemplates = map[Kind]*template.Template{
	KindWelcome: template.Must(template.New("welcome").Parse(`Hello,

Thank you for running the relay {{.Name}} ({{.Fingerprint}}).
{{- if .Exit}}
It is configured as an exit relay, which the network especially needs.
{{- end}}

You can subscribe to downtime and reward notices for this relay on the weather site.
`)),
	KindReward: template.Must(template.New("reward").Parse(`Hello,

Your relay {{.Name}} ({{.Fingerprint}}) has been running for {{.HoursSinceFirstSeen}} hours
with an average bandwidth of {{.Bandwidth.StringFixed 2}} kB/s{{if .Exit}} as an exit{{end}}.
It now qualifies for a t-shirt.

Unsubscribe: {{.UnsubscribeURL}}
Preferences: {{.PreferencesURL}}
`)),
}

// Subject returns the mail subject line.
func Subject(n Notification) string {
	switch n.Kind {
	case KindWelcome:
		return fmt.Sprintf("Welcome to the relay network, %s", n.Name)
	case KindReward:
		return fmt.Sprintf("Your relay %s has earned a t-shirt", n.Name)
	default:
		return "Relay notification"
	}
}

// Body renders the plain-text mail body.
func Body(n Notification) (string, error) {
	tmpl, ok := bodyTemplates[n.Kind]
	if !ok {
		return "", fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, n); err != nil {
		return "", fmt.Errorf("render %s body: %w", n.Kind, err)
	}
	return b.String(), nil
}
