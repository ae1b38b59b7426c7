// Package control exposes the Manager Facade over HTTP so the `fetchd`
// CLI's client subcommands (ls, pause, resume, retry, rm) can drive a
// running daemon instance.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/manifest"
	"github.com/ingestlab/fetchd/internal/manager"
	"github.com/ingestlab/fetchd/internal/metrics"
)

var log = logging.For("control")

type manifestRequest struct {
	Path string `json:"path"`
}

// New builds the chi router. mtr may be nil to disable /metrics.
func New(m *manager.Manager, mtr *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	})

	r.Post("/manifest", func(w http.ResponseWriter, req *http.Request) {
		var body manifestRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Path == "" {
			http.Error(w, "body must be {\"path\": \"...\"}", http.StatusBadRequest)
			return
		}
		mf, err := manifest.Load(body.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.LoadManifest(mf.Entries, mf.DatasetName); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Route("/tasks/{id}", func(r chi.Router) {
		r.Post("/{action}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			switch chi.URLParam(req, "action") {
			case "pause":
				m.Pause(id)
			case "resume":
				m.Resume(id)
			case "cancel":
				m.Cancel(id)
			case "retry":
				m.Retry(id)
			case "prioritize":
				m.Prioritize(id)
			case "remove":
				m.Remove(id)
			default:
				http.Error(w, "unknown task action", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	r.Post("/control/{action}", func(w http.ResponseWriter, req *http.Request) {
		switch chi.URLParam(req, "action") {
		case "start":
			m.Start()
		case "pause-all":
			m.PauseAll()
		case "resume-all":
			m.ResumeAll()
		case "retry-failed":
			m.RetryFailed()
		case "clear":
			m.Clear()
		default:
			http.Error(w, "unknown control action", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	if mtr != nil {
		r.Handle("/metrics", promhttp.HandlerFor(mtr.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}
