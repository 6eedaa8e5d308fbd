package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/star/substep/internal/irradiance"
	"github.com/star/substep/internal/substep"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func statsHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Stats())
	}
}

type vesselResponse struct {
	substep.VesselInfo
	Environment *irradiance.Environment `json:"environment,omitempty"`
}

func withEnvironment(info substep.VesselInfo, envs Environments) vesselResponse {
	resp := vesselResponse{VesselInfo: info}
	if envs != nil {
		if env, ok := envs.Environment(info.ID); ok {
			resp.Environment = &env
		}
	}
	return resp
}

func vesselsHandler(e Engine, envs Environments) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := e.Vessels()
		out := make([]vesselResponse, 0, len(infos))
		for _, info := range infos {
			out = append(out, withEnvironment(info, envs))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(out),
			"vessels": out,
		})
	}
}

func vesselHandler(e Engine, envs Environments) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid vessel id")
			return
		}
		info, ok := e.Vessel(id)
		if !ok {
			writeError(w, http.StatusNotFound, "vessel not tracked")
			return
		}
		writeJSON(w, http.StatusOK, withEnvironment(info, envs))
	}
}

type bodyResponse struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Star     bool       `json:"star,omitempty"`
	Parent   int        `json:"parent"`
	Position [3]float64 `json:"position"`
}

type worldResponse struct {
	UniversalTime float64        `json:"universal_time"`
	Time          time.Time      `json:"time"`
	Running       bool           `json:"running"`
	Warp          float64        `json:"warp"`
	MaxWarp       float64        `json:"max_warp"`
	Vessels       int            `json:"vessels"`
	Bodies        []bodyResponse `json:"bodies"`
}

func worldHandler(wd World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ut := wd.UniversalTime()
		resp := worldResponse{
			UniversalTime: ut,
			Time:          wd.TimeAt(ut).UTC(),
			Running:       wd.Running(),
			Warp:          wd.Warp(),
			MaxWarp:       wd.MaxWarpRate(),
			Vessels:       len(wd.Vessels()),
		}
		for _, b := range wd.Bodies() {
			resp.Bodies = append(resp.Bodies, bodyResponse{
				Index:    b.Index,
				Name:     b.Name,
				Star:     b.Star,
				Parent:   b.ReferenceBody,
				Position: b.Position,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func warpHandler(logger *slog.Logger, wd World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Rate *float64 `json:"rate"`
		}
		if err := readJSON(r, &req); err != nil || req.Rate == nil {
			writeError(w, http.StatusBadRequest, `expected {"rate": <number>}`)
			return
		}
		if math.IsInf(*req.Rate, 0) {
			writeError(w, http.StatusBadRequest, "rate must be finite")
			return
		}
		if err := wd.SetWarp(*req.Rate); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    err.Error(),
				"max_warp": wd.MaxWarpRate(),
			})
			return
		}
		logger.Info("warp set via api", "component", "api", "rate", *req.Rate)
		writeJSON(w, http.StatusOK, map[string]float64{"warp": wd.Warp()})
	}
}

func runningHandler(logger *slog.Logger, wd World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Running *bool `json:"running"`
		}
		if err := readJSON(r, &req); err != nil || req.Running == nil {
			writeError(w, http.StatusBadRequest, `expected {"running": <bool>}`)
			return
		}
		wd.SetRunning(*req.Running)
		logger.Info("world running state set via api", "component", "api", "running", *req.Running)
		writeJSON(w, http.StatusOK, map[string]bool{"running": wd.Running()})
	}
}
