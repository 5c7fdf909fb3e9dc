package tello

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/facefollow/internal/httputil"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// AttachAdminRoutes adds a command console and a live response tail under
// /debug/. tsweb restricts these to loopback and tailnet callers.
func (m *CommandMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("tello", "send SDK commands to the drone", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// Writes a command and returns the drone's answer.
	debug.HandleSilentFunc("tello-send-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if strings.HasPrefix(command, "rc ") {
			if err := m.SendCommand(command); err != nil {
				http.Error(w, "Failed to write command", http.StatusInternalServerError)
				return
			}
			io.WriteString(w, fmt.Sprintf("Sent %q", command))
			return
		}
		resp, err := m.Exec(r.Context(), command, DefaultConfig().CommandTimeout)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("%q -> %q", command, resp))
	})

	// Server-Sent Events for every response line.
	debug.HandleSilentFunc("tello-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tello-tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}

// AttachAdminRoutes exposes the drone status as JSON at /debug/tello-status.
func (d *Drone) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("tello-status", "link health and latest drone telemetry", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, d.Status())
	})
}
