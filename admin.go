package taskwatch

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/taskwatch/internal/store"
)

// AdminInfo is what /env reveals about the configuration: presence, never
// values — the cookie and token are secrets.
type AdminInfo struct {
	HasCookie   bool          `json:"has_cookie"`
	HasBotToken bool          `json:"has_bot_token"`
	HasChatID   bool          `json:"has_chat_id"`
	Interval    time.Duration `json:"-"`
}

// NewAdminRouter builds the admin HTTP surface: a thin wrapper over the
// watcher, no logic of its own.
func NewAdminRouter(w *Watcher, info AdminInfo, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", func(wr http.ResponseWriter, req *http.Request) {
		st := w.Status(req.Context())
		writeJSON(wr, http.StatusOK, map[string]any{
			"service":         "taskwatch",
			"last_checked_at": st.LastCheckedAt,
			"last_state":      st.LastState,
			"streak":          st.Streak,
		})
	})

	r.Get("/health", func(wr http.ResponseWriter, _ *http.Request) {
		wr.Header().Set("Content-Type", "text/plain; charset=utf-8")
		wr.Write([]byte("ok"))
	})

	// Manual trigger. Blocks for the full render; serialized against the
	// scheduled loop by the watcher's pipeline lock.
	check := func(wr http.ResponseWriter, req *http.Request) {
		res := w.CheckNow(req.Context())
		code := http.StatusOK
		if !res.OK && res.Err != "" {
			code = http.StatusBadGateway
		}
		writeJSON(wr, code, res)
	}
	r.Get("/check", check)
	r.Post("/check", check)

	r.Get("/env", func(wr http.ResponseWriter, _ *http.Request) {
		writeJSON(wr, http.StatusOK, map[string]any{
			"has_cookie":    info.HasCookie,
			"has_bot_token": info.HasBotToken,
			"has_chat_id":   info.HasChatID,
			"interval_sec":  int(info.Interval.Seconds()),
		})
	})

	r.Get("/log", func(wr http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		entries, err := w.RecentLog(req.Context(), limit)
		if err != nil {
			logger.Error("admin: recent log", "error", err)
			jsonErr(wr, "internal error", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []store.LogEntry{} // emit [], not null
		}
		writeJSON(wr, http.StatusOK, entries)
	})

	reset := func(wr http.ResponseWriter, req *http.Request) {
		rec, err := w.Reset(req.Context())
		if err != nil {
			logger.Error("admin: reset", "error", err)
			jsonErr(wr, "reset failed", http.StatusInternalServerError)
			return
		}
		writeJSON(wr, http.StatusOK, rec)
	}
	r.Post("/reset", reset)
	r.Get("/reset", reset) // kept for curl convenience, matches the old surface

	return r
}

func writeJSON(wr http.ResponseWriter, code int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(code)
	json.NewEncoder(wr).Encode(v)
}

func jsonErr(wr http.ResponseWriter, msg string, code int) {
	writeJSON(wr, code, map[string]string{"error": msg})
}
