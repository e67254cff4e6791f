// internal/web/pages.go
//
// Server-rendered HTML: the operator console at / and the "code inactive"
// page shown for stopped entries.  Both are deliberately tiny — the real
// management surface is the desktop tool talking to /api.
package web

import (
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>QRelay Console</title>
  <style>
    body { font-family: -apple-system, "Segoe UI", sans-serif; background: #f5f7fa; margin: 0; }
    .wrap { max-width: 720px; margin: 0 auto; padding: 24px; }
    .card { background: #fff; border-radius: 12px; padding: 24px; margin-bottom: 16px;
            box-shadow: 0 4px 20px rgba(0,0,0,.08); }
    .num { font-size: 2.2em; font-weight: 700; color: #2d3748; }
    .lbl { color: #718096; font-size: .85em; text-transform: uppercase; letter-spacing: 1px; }
    code { background: #edf2f7; padding: 2px 6px; border-radius: 4px; }
  </style>
</head>
<body>
  <div class="wrap">
    <div class="card">
      <h1>QRelay</h1>
      <p>Dynamic redirect registry &mdash; storage: <code>{{.Storage}}</code>, up {{.Uptime}}.</p>
    </div>
    <div class="card"><div class="num">{{.Entries}}</div><div class="lbl">codes</div></div>
    <div class="card"><div class="num">{{.TotalScans}}</div><div class="lbl">scans</div></div>
    <div class="card">
      <p>Scan endpoint <code>GET /code/{id}</code> &middot; API under <code>/api</code> &middot;
         health at <code>/health</code>.</p>
    </div>
  </div>
</body>
</html>
`))

const inactiveHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Code inactive</title>
  <style>
    body { font-family: sans-serif; text-align: center; margin: 50px; background: #f5f5f5; }
    .message { max-width: 400px; margin: 0 auto; background: #fff; padding: 30px;
               border-radius: 12px; box-shadow: 0 4px 20px rgba(0,0,0,.1); }
    h2 { color: #e53e3e; }
    p { color: #718096; }
  </style>
</head>
<body>
  <div class="message">
    <h2>This code is currently inactive</h2>
    <p>The code exists but has been turned off by its owner.</p>
  </div>
</body>
</html>
`

// dashboard renders the operator console.
func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	agg, err := h.store.Aggregate(r.Context())
	if err != nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = dashboardTmpl.Execute(w, map[string]any{
		"Storage":    h.storage,
		"Uptime":     time.Since(h.started).Round(time.Second),
		"Entries":    agg.Entries,
		"TotalScans": agg.TotalScans,
	})
	if err != nil {
		zap.S().Errorw("dashboard render failed", "err", err)
	}
}

// inactivePage is the user-visible response for a stopped code.  A 200, not
// a 404: the id is known, just deliberately disabled.
func (h *Handlers) inactivePage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(inactiveHTML))
}
