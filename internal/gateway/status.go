// Operator surface: dashboard, first-run key bootstrap, balance checks and
// the skip threshold.
package gateway

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/keypool"
	"github.com/compresr/protocol-gateway/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	templatesOnce    sync.Once
	templates        *template.Template
	templatesInitErr error
)

var templateFuncs = template.FuncMap{
	"percent": func(rate float64) string {
		return fmt.Sprintf("%.1f%%", rate*100)
	},
	"stamp": func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339)
		case *time.Time:
			if t != nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
		return ""
	},
}

func getTemplates() (*template.Template, error) {
	templatesOnce.Do(func() {
		templates, templatesInitErr = template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	})
	return templates, templatesInitErr
}

// statusPage is the data rendered by status.html.
type statusPage struct {
	Pool    keypool.Stats
	Metrics map[string]int64
	Models  int
	Uptime  string
}

// renderHTML executes a template into a buffer first so a template error still yields a clean 500.
func renderHTML(w http.ResponseWriter, status int, name string, data any) {
	tmpl, err := getTemplates()
	if err != nil {
		log.Error().Err(err).Msg("failed to parse status templates")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error", "message": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("failed to render template")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error", "message": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// handleStatus renders the setup form until a server key exists, then the dashboard.
func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if !g.keys.IsSet() {
		renderHTML(w, http.StatusOK, "setup", nil)
		return
	}
	renderHTML(w, http.StatusOK, "status", statusPage{
		Pool:    g.pool.Stats(),
		Metrics: g.metrics.Stats(),
		Models:  len(g.router.Models()),
		Uptime:  time.Since(g.startedAt).Round(time.Second).String(),
	})
}

// handleSetKey stores the server key once. Accepts a form post or a JSON body {"key": "..."}.
func (g *Gateway) handleSetKey(w http.ResponseWriter, r *http.Request) {
	asJSON := isJSONRequest(r)

	if g.keys.IsSet() {
		if asJSON {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Server key already set"})
			return
		}
		renderHTML(w, http.StatusBadRequest, "key_exists", nil)
		return
	}

	key, ok := submittedKey(w, r, asJSON)
	if !ok {
		writeSetKeyError(w, asJSON, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(key) == "" {
		writeSetKeyError(w, asJSON, http.StatusBadRequest, "Key is required")
		return
	}

	if err := g.keys.Set(key); err != nil {
		if errors.Is(err, store.ErrKeyAlreadySet) {
			if asJSON {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Server key already set"})
				return
			}
			renderHTML(w, http.StatusBadRequest, "key_exists", nil)
			return
		}
		log.Error().Err(err).Msg("failed to set server key")
		writeSetKeyError(w, asJSON, http.StatusInternalServerError, "Failed to set key")
		return
	}

	if asJSON {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	renderHTML(w, http.StatusOK, "key_saved", nil)
}

// submittedKey reads the key from a JSON or form body. ok is false when the body is unreadable.
func submittedKey(w http.ResponseWriter, r *http.Request, asJSON bool) (key string, ok bool) {
	if asJSON {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
		if err != nil || !gjson.ValidBytes(raw) {
			return "", false
		}
		return gjson.GetBytes(raw, "key").String(), true
	}
	if err := r.ParseForm(); err != nil {
		return "", false
	}
	return r.PostFormValue("key"), true
}

func writeSetKeyError(w http.ResponseWriter, asJSON bool, status int, msg string) {
	if asJSON {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func isJSONRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// =============================================================================
// BALANCES
// =============================================================================

type balanceReply struct {
	Index   int              `json:"index"`
	Key     string           `json:"key"`
	Balance *keypool.Balance `json:"balance"`
	Skipped bool             `json:"skipped"`
}

// handleBalance refreshes the balance of one credential.
func (g *Gateway) handleBalance(w http.ResponseWriter, r *http.Request) {
	if g.refresher == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Balance check not configured"})
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid index"})
		return
	}

	secret, err := g.pool.Secret(index)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Key not found", "message": err.Error()})
		return
	}

	b, err := g.refresher.Refresh(r.Context(), index)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, keypool.ErrIndexOutOfRange) {
			status = http.StatusNotFound
		}
		log.Warn().Err(err).Int("index", index).Msg("balance check failed")
		writeJSON(w, status, map[string]string{"error": "Balance check failed", "message": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, balanceReply{
		Index:   index,
		Key:     keypool.MaskSecret(secret),
		Balance: &b,
		Skipped: b.Remaining <= g.pool.SkipThreshold(),
	})
}

// handleBalances refreshes every active credential in bounded batches.
func (g *Gateway) handleBalances(w http.ResponseWriter, r *http.Request) {
	if g.refresher == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Balance check not configured"})
		return
	}

	started := time.Now()
	results := g.refresher.RefreshAll(r.Context())

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	log.Info().
		Int("checked", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(started)).
		Msg("balance refresh completed")

	writeJSON(w, http.StatusOK, map[string]any{
		"results":       results,
		"checked":       len(results),
		"failed":        failed,
		"skipThreshold": g.pool.SkipThreshold(),
	})
}

// =============================================================================
// SKIP THRESHOLD
// =============================================================================

func (g *Gateway) handleGetSkipThreshold(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"threshold": g.pool.SkipThreshold()})
}

// handleSetSkipThreshold accepts {"threshold": n} or a form field "threshold".
func (g *Gateway) handleSetSkipThreshold(w http.ResponseWriter, r *http.Request) {
	var (
		value float64
		err   error
	)
	if isJSONRequest(r) {
		raw, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
		v := gjson.GetBytes(raw, "threshold")
		switch {
		case readErr != nil || !gjson.ValidBytes(raw):
			err = errors.New("invalid JSON body")
		case v.Type != gjson.Number:
			err = errors.New("threshold must be a number")
		default:
			value = v.Float()
		}
	} else {
		value, err = strconv.ParseFloat(strings.TrimSpace(r.FormValue("threshold")), 64)
	}
	if err == nil {
		err = g.pool.SetSkipThreshold(value)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid threshold", "message": err.Error()})
		return
	}

	log.Info().Float64("threshold", value).Msg("skip threshold updated")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "threshold": value})
}
