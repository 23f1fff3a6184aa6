package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
)

type healthResponse struct {
	Status string `json:"status"`
}

type versionResponse struct {
	Version   string   `json:"version"`
	GoVersion string   `json:"go_version"`
	Modules   []string `json:"modules"`
}

func (a *App) handleHealthcheck(w http.ResponseWriter, _ *http.Request) { // A
	WriteJSON(w, http.StatusOK, healthResponse{Status: "available"})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) { // A
	WriteJSON(w, http.StatusOK, versionResponse{
		Version:   a.version,
		GoVersion: runtime.Version(),
		Modules:   a.Modules(),
	})
}

// WriteJSON encodes payload as the response body.
func WriteJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func buildVersion() string { // HC
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}
