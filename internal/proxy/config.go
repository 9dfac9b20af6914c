package proxy

import (
	"path/filepath"
	"strings"
	"text/template"
)

// Config describes the nginx deployment in front of the worker pool. The
// configuration is rendered exactly once per run; the upstream list never
// changes after the initial render.
type Config struct {
	NginxBin    string
	ListenPort  int
	WorkerPorts []int
	LogDir      string
}

func (c Config) ConfPath() string {
	return filepath.Join(c.LogDir, "nginx_vllm.conf")
}

func (c Config) StdoutLog() string {
	return filepath.Join(c.LogDir, "nginx_stdout.log")
}

func (c Config) ErrorLog() string {
	return filepath.Join(c.LogDir, "nginx_error.log")
}

// Long read timeout for streaming completions, buffering off, and an empty
// Connection header so upstream keep-alive works across proxied requests.
var configTemplate = template.Must(template.New("nginx").Parse(`worker_processes auto;
pid {{ .PidPath }};
error_log {{ .ErrorLog }} warn;
events { worker_connections 1024; }
http {
    access_log /dev/null;
    proxy_read_timeout 1200s;
    upstream vllm_backend {
        least_conn;
{{- range .WorkerPorts }}
        server 127.0.0.1:{{ . }};
{{- end }}
    }
    server {
        listen {{ .ListenPort }};
        location / {
            proxy_pass http://vllm_backend;
            proxy_http_version 1.1;
            proxy_set_header Connection "";
            proxy_buffering off;
        }
    }
}
`))

// Render returns the nginx configuration text for the pool.
func Render(cfg Config) (string, error) {
	var sb strings.Builder
	data := struct {
		PidPath     string
		ErrorLog    string
		WorkerPorts []int
		ListenPort  int
	}{
		PidPath:     filepath.Join(cfg.LogDir, "nginx.pid"),
		ErrorLog:    cfg.ErrorLog(),
		WorkerPorts: cfg.WorkerPorts,
		ListenPort:  cfg.ListenPort,
	}
	if err := configTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
