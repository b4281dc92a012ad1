package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"decoynet/pkg/ingest"
	"decoynet/pkg/models"
)

// Decoy surfaces served by this binary. Every hit is recorded through the
// full pipeline; the responses are plausible enough to keep scanners
// probing.
func registerDecoys(mux *http.ServeMux, orch *ingest.Orchestrator) {
	d := &decoys{orch: orch}
	mux.HandleFunc("/admin", d.adminPanel)
	mux.HandleFunc("/admin/login", d.adminLogin)
	mux.HandleFunc("/phpmyadmin/", d.sqlConsole)
	mux.HandleFunc("/files", d.fileBrowser)
	mux.HandleFunc("/api/internal/users", d.internalAPI)
	mux.HandleFunc("/wp-login.php", d.wordpressLogin)
	mux.HandleFunc("/.env", d.envFile)
	mux.HandleFunc("/robots.txt", d.robots)
}

type decoys struct {
	orch *ingest.Orchestrator
}

const maxDecoyBody = 64 << 10

// capture builds the request record a decoy hands to the pipeline.
func capture(r *http.Request, honeypotType string, status int, started time.Time) models.RequestRecord {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	params := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	var body string
	if r.Body != nil {
		data, _ := io.ReadAll(io.LimitReader(r.Body, maxDecoyBody))
		body = string(data)
	}

	return models.RequestRecord{
		SourceIP:       clientIP(r),
		UserAgent:      r.UserAgent(),
		Method:         r.Method,
		Endpoint:       r.URL.Path,
		URL:            r.URL.RequestURI(),
		Headers:        headers,
		QueryParams:    params,
		Body:           body,
		StatusCode:     status,
		ResponseTimeMs: float64(time.Since(started).Microseconds()) / 1000,
		HoneypotType:   honeypotType,
		Timestamp:      started.UTC(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (d *decoys) record(r *http.Request, honeypotType string, status int, started time.Time) {
	if _, err := d.orch.SubmitEvent(r.Context(), capture(r, honeypotType, status, started)); err != nil {
		log.Printf("[decoy] failed to record %s hit: %v", honeypotType, err)
	}
}

func (d *decoys) adminPanel(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><head><title>Admin Panel</title></head><body>
<h2>Administrator Login</h2>
<form method="POST" action="/admin/login">
<input name="username" placeholder="Username"><br>
<input name="password" type="password" placeholder="Password"><br>
<button type="submit">Sign in</button>
</form></body></html>`)
	d.record(r, "admin_panel", http.StatusOK, started)
}

// adminLogin always rejects. Credential submissions against a decoy form
// are brute force attempts by construction.
func (d *decoys) adminLogin(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/admin", http.StatusFound)
		d.record(r, "admin_panel", http.StatusFound, started)
		return
	}

	time.Sleep(150 * time.Millisecond)
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprint(w, `<html><body><p>Invalid username or password.</p></body></html>`)

	rec := capture(r, "admin_panel", http.StatusUnauthorized, started)
	if _, err := d.orch.SubmitClassified(r.Context(), rec, models.AttackBruteForce); err != nil {
		log.Printf("[decoy] failed to record login attempt: %v", err)
	}
}

func (d *decoys) sqlConsole(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><head><title>phpMyAdmin 4.9.0</title></head><body>
<h1>phpMyAdmin</h1><p>Welcome to phpMyAdmin 4.9.0</p>
<form method="POST"><input name="pma_username"><input name="pma_password" type="password">
<button>Go</button></form></body></html>`)
	d.record(r, "sql_console", http.StatusOK, started)
}

func (d *decoys) fileBrowser(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	path := r.URL.Query().Get("path")
	w.Header().Set("Content-Type", "text/html")
	if path == "" {
		path = "/var/www/uploads"
	}
	fmt.Fprintf(w, `<html><body><h3>Index of %s</h3>
<ul><li><a href="/files?path=%s/..">../</a></li>
<li>report-2024.pdf</li><li>backup.tar.gz</li><li>config.old</li></ul></body></html>`, path, path)
	d.record(r, "file_browser", http.StatusOK, started)
}

func (d *decoys) internalAPI(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"users":[{"id":1,"username":"admin","role":"administrator"},{"id":2,"username":"svc_backup","role":"service"}],"total":2}`)
	d.record(r, "internal_api", http.StatusOK, started)
}

func (d *decoys) wordpressLogin(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if r.Method == http.MethodPost {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `<html><body><div id="login_error">Invalid credentials.</div></body></html>`)
		rec := capture(r, "wordpress", http.StatusUnauthorized, started)
		if _, err := d.orch.SubmitClassified(r.Context(), rec, models.AttackBruteForce); err != nil {
			log.Printf("[decoy] failed to record login attempt: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><head><title>Log In &lsaquo; WordPress</title></head>
<body><form method="POST"><input name="log"><input name="pwd" type="password"><button>Log In</button></form></body></html>`)
	d.record(r, "wordpress", http.StatusOK, started)
}

func (d *decoys) envFile(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "APP_ENV=production\nDB_HOST=10.0.3.17\nDB_USER=app\nDB_PASS=Sup3rS3cret!\nAWS_KEY=AKIA0000000000EXAMPLE\n")
	d.record(r, "config_leak", http.StatusOK, started)
}

func (d *decoys) robots(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "User-agent: *\nDisallow: /admin\nDisallow: /phpmyadmin/\nDisallow: /files\nDisallow: /api/internal/\n")
	d.record(r, "robots", http.StatusOK, started)
}
