package httputil

import (
	"net/http"
	"runtime"
)

type healthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthDetails supplies extra fields for the health payload.
type HealthDetails func() map[string]any

// HealthHandler reports liveness.
func HealthHandler(details ...HealthDetails) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := healthResponse{Status: "healthy"}
		for _, fn := range details {
			if extra := fn(); len(extra) > 0 {
				if body.Details == nil {
					body.Details = map[string]any{}
				}
				for k, v := range extra {
					body.Details[k] = v
				}
			}
		}
		RespondJSON(w, http.StatusOK, body)
	})
}

// ReadinessHandler reports readiness, running the supplied check.
func ReadinessHandler(check func() error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				RespondProblemf(w, r, http.StatusServiceUnavailable, "not ready: %v", err)
				return
			}
		}
		RespondJSON(w, http.StatusOK, healthResponse{Status: "ready"})
	})
}

type versionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// VersionHandler reports build information.
func VersionHandler(version, commit, buildDate string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		RespondJSON(w, http.StatusOK, versionResponse{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
			GoVersion: runtime.Version(),
		})
	})
}
