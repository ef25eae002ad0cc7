package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

// updateRequest is one badge poll. Every field is required; pointers let
// us tell a missing field from a zero value.
type updateRequest struct {
	ID      *string `json:"id"`
	IP      *string `json:"ip"`
	RSSI    *int    `json:"rssi"`
	Role    *string `json:"role"`
	Status  *string `json:"status"`
	Health  *int    `json:"health"`
	Battery *int    `json:"battery"`
	Comment *string `json:"comment"`
}

// missingField names the first absent field, or "" when all are present.
func (u *updateRequest) missingField() string {
	switch {
	case u.ID == nil || *u.ID == "":
		return "id"
	case u.IP == nil:
		return "ip"
	case u.RSSI == nil:
		return "rssi"
	case u.Role == nil:
		return "role"
	case u.Status == nil:
		return "status"
	case u.Health == nil:
		return "health"
	case u.Battery == nil:
		return "battery"
	case u.Comment == nil:
		return "comment"
	}
	return ""
}

type updateResponse struct {
	Role     Role  `json:"role"`
	Phase    Phase `json:"phase"`
	Timeout  int   `json:"timeout"`
	Duration int   `json:"duration"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(cfg *Config, w http.ResponseWriter, msg string) {
	writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": msg})
}

// serveUpdate handles badge polls.
func serveUpdate(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(cfg, w, "malformed payload")
			return
		}

		if field := req.missingField(); field != "" {
			badRequest(cfg, w, "missing required field: "+field)
			return
		}

		result := g.Poll(*req.ID, *req.IP, *req.RSSI, *req.Role, *req.Health, *req.Battery, *req.Comment)

		writeJSON(cfg, w, http.StatusOK, updateResponse{
			Role:     result.Role,
			Phase:    result.Phase,
			Timeout:  result.TimeoutSecs,
			Duration: result.DurationMins,
		})

		logf(cfg, "POLL: %s (%s) -> %s/%s in %s",
			*req.ID,
			realIP(r),
			result.Role,
			result.Phase,
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// formInt parses a required integer form field.
func formInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(r.FormValue(name))
}

func serveReset(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		g.Reset()
		writeJSON(cfg, w, http.StatusOK, map[string]string{"phase": g.State().Phase.String()})
		logf(cfg, "GAME: Reset by %s", realIP(r))
	}
}

func servePrepare(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		percent, err := formInt(r, "percent")
		if err != nil {
			badRequest(cfg, w, "percent must be an integer")
			return
		}
		timeout, err := formInt(r, "timeout")
		if err != nil {
			badRequest(cfg, w, "timeout must be an integer")
			return
		}
		duration, err := formInt(r, "duration")
		if err != nil {
			badRequest(cfg, w, "duration must be an integer")
			return
		}

		if err := g.EnterPreparing(GameConfig{
			HumanPercent: percent,
			TimeoutSecs:  timeout,
			DurationMins: duration,
		}); err != nil {
			badRequest(cfg, w, err.Error())
			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]string{"phase": PhasePreparing.String()})
		logf(cfg, "GAME: Preparing (%d%% human, timeout %ds, duration %dm) by %s", percent, timeout, duration, realIP(r))
	}
}

func serveActivate(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		g.EnterActive()

		state := g.State()
		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"phase":   state.Phase.String(),
			"humans":  state.Humans,
			"zombies": state.Zombies,
		})
		logf(cfg, "GAME: Active (%d humans, %d zombies) by %s", state.Humans, state.Zombies, realIP(r))
	}
}

func serveExtend(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		minutes, err := formInt(r, "minutes")
		if err != nil {
			badRequest(cfg, w, "minutes must be an integer")
			return
		}

		g.ExtendDuration(minutes)

		writeJSON(cfg, w, http.StatusOK, map[string]int{"duration": g.State().Config.DurationMins})
		logf(cfg, "GAME: Extended by %dm by %s", minutes, realIP(r))
	}
}

func serveEnd(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		g.EnterEnded()
		writeJSON(cfg, w, http.StatusOK, map[string]string{"phase": PhaseEnded.String()})
		logf(cfg, "GAME: Ended by %s", realIP(r))
	}
}

func serveSnapshot(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, g.Snapshot())
	}
}

func registerGame(cfg *Config, g *Game, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/update", serveUpdate(cfg, g))

	mux.POST(cfg.prefix+"/op/reset", serveReset(cfg, g))
	mux.POST(cfg.prefix+"/op/prepare", servePrepare(cfg, g))
	mux.POST(cfg.prefix+"/op/activate", serveActivate(cfg, g))
	mux.POST(cfg.prefix+"/op/extend", serveExtend(cfg, g))
	mux.POST(cfg.prefix+"/op/end", serveEnd(cfg, g))

	mux.GET(cfg.prefix+"/devices.json", serveSnapshot(cfg, g))
}
