// Package template renders starter fleetd.toml files.
package template

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// TemplateType selects a starter profile.
type TemplateType string

const (
	TypeLocal   TemplateType = "local"
	TypeDev     TemplateType = "dev"
	TypeManaged TemplateType = "managed"
	TypeCloud   TemplateType = "cloud"
	TypeWorkers TemplateType = "workers"
	TypeWorker  TemplateType = "worker"
	TypeSecure  TemplateType = "secure"
	TypeTLS     TemplateType = "tls"
)

// Options fill the template.
type Options struct {
	APIs    []string // empty means the built-in default
	DataDir string   // storage, marks and certificates live here
}

type profile struct {
	Environment string
	APIs        string
	SetAPIs     bool
	DataDir     string
	Restart     bool
	Consumer    bool
	Server      bool
	TLS         bool
	Auth        bool
}

const fileTmpl = `# fleetd configuration
environment = "{{.Environment}}"
{{- if .SetAPIs}}
apis = "{{.APIs}}"
{{- end}}

[storage]
dsn = "sqlite://{{.DataDir}}/fleetd.db"

[marks]
dir = "{{.DataDir}}/marks"

[log]
level = "info"
format = "text"
{{- if .Server}}

[server]
listen = "127.0.0.1:8080"
base_path = "/api"
{{- end}}
{{- if .TLS}}

[server.tls]
enabled = true
dir = "{{.DataDir}}/tls"
auto_generate = true
{{- end}}
{{- if .Auth}}

[server.auth]
enabled = true
tokens = ["change-me"]
# users = { ops = "<output of fleetd hash-password>" }
{{- end}}

[jobs]
restart_on_failure = {{.Restart}}
max_restart_count = 3
max_restart_interval_seconds = 60

[tasks]
restart_on_failure = {{.Restart}}
max_restart_count = 3
max_restart_interval_seconds = 60

[ml_task_queue]
consumer = {{.Consumer}}
restart_on_failure = {{.Restart}}
`

var tmpl = template.Must(template.New("fleetd.toml").Parse(fileTmpl))

// Generator renders profiles.
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) profile(t TemplateType) (profile, error) {
	switch t {
	case TypeLocal, TypeDev:
		return profile{Environment: "local", Restart: true}, nil
	case TypeManaged, TypeCloud:
		return profile{Environment: "managed", Server: true}, nil
	case TypeWorkers, TypeWorker:
		return profile{Environment: "local", SetAPIs: true, Restart: true, Consumer: true}, nil
	case TypeSecure, TypeTLS:
		return profile{Environment: "local", Restart: true, Server: true, TLS: true, Auth: true}, nil
	}
	return profile{}, fmt.Errorf("unknown template type: %s (supported: %s)", t, strings.Join(g.GetSupportedTypes(), ", "))
}

// Generate renders the TOML for t.
func (g *Generator) Generate(t TemplateType, o Options) ([]byte, error) {
	p, err := g.profile(t)
	if err != nil {
		return nil, err
	}
	if len(o.APIs) > 0 {
		p.SetAPIs = true
		p.APIs = strings.Join(o.APIs, ",")
	}
	p.DataDir = "./data"
	if o.DataDir != "" {
		p.DataDir = filepath.ToSlash(o.DataDir)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render %s: %w", t, err)
	}
	return buf.Bytes(), nil
}

// GetSupportedTypes returns the canonical profile names.
func (g *Generator) GetSupportedTypes() []string {
	return []string{string(TypeLocal), string(TypeManaged), string(TypeWorkers), string(TypeSecure)}
}
