package mailcmd

import "text/template"

// Templates holds the mail bodies messages.yml supplies, parsed once at
// startup (spec.md §9 "Global registries and templates" — held here as an
// immutable value rather than package-level state).
type Templates struct {
	Info          *template.Template
	AllowAdvisory *template.Template
	DenyAdvisory  *template.Template
	Footer        string
	From          string
}

// ParseTemplates compiles the three body templates messages.yml carries.
func ParseTemplates(info, allowAdvisory, denyAdvisory, footer, from string) (*Templates, error) {
	infoTmpl, err := template.New("info").Parse(info)
	if err != nil {
		return nil, err
	}
	allowTmpl, err := template.New("allow-advisory").Parse(allowAdvisory)
	if err != nil {
		return nil, err
	}
	denyTmpl, err := template.New("deny-advisory").Parse(denyAdvisory)
	if err != nil {
		return nil, err
	}
	return &Templates{
		Info:          infoTmpl,
		AllowAdvisory: allowTmpl,
		DenyAdvisory:  denyTmpl,
		Footer:        footer,
		From:          from,
	}, nil
}
