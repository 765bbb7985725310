// Package httpd implements the HTTP honeypot emulator: a single fake
// IP-camera admin login page, a login-POST credential harvester, and
// HTTP-threat pattern scanning embedded into captured events' data.
package httpd

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/patterns"
	"github.com/syn2much/mantis/internal/service"
)

const (
	idleTimeout    = 30 * time.Second
	maxBodyPreview = 4096
)

const loginPage = `<!DOCTYPE html>
<html><head><title>IP Camera Login</title></head>
<body>
<h2>Network Camera - Admin Login</h2>
<form method="post" action="/login">
<input type="text" name="username" placeholder="Username">
<input type="password" name="password" placeholder="Password">
<button type="submit">Login</button>
</form>
</body></html>`

// Emulator is the HTTP protocol emulator.
type Emulator struct {
	base *service.Base
	port int
}

// New constructs the HTTP emulator.
func New(base *service.Base, port int) *Emulator {
	return &Emulator{base: base, port: port}
}

// Serve blocks, accepting connections until ctx is canceled.
func (e *Emulator) Serve(ctx context.Context) error {
	return e.base.Serve(ctx, e.port, e.handleConn)
}

// handleConn speaks just enough HTTP/1.1 over the raw connection to
// avoid pulling in a full net/http server listener per request (the
// session/event model is per-TCP-connection, not per-request).
func (e *Emulator) handleConn(ctx context.Context, sess *model.Session, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		e.handleRequest(ctx, sess, conn, req)
		req.Body.Close()
	}
}

func (e *Emulator) handleRequest(ctx context.Context, sess *model.Session, conn net.Conn, req *http.Request) {
	if req.Method == http.MethodPost && req.URL.Path == "/login" {
		e.handleLogin(ctx, sess, conn, req)
		return
	}

	headers := headersToJSON(req.Header)
	var body string
	if req.Method == http.MethodPost {
		b, _ := io.ReadAll(io.LimitReader(req.Body, maxBodyPreview))
		body = string(b)
	}

	payload := model.JSON{
		"method":  req.Method,
		"path":    req.URL.Path,
		"query":   req.URL.Query(),
		"headers": headers,
		"ua":      req.UserAgent(),
		"body":    body,
	}
	matches := patterns.ScanHTTPThreats(httpCorpus(payload))
	if len(matches) > 0 {
		payload["threats"] = matchesToJSON(matches)
	}
	e.base.Log(ctx, sess, model.EventRequest, payload)

	if isNoiseAsset(req.URL.Path) {
		writeResponse(conn, 404, "text/plain", "")
		return
	}
	if req.Method == http.MethodGet {
		writeResponse(conn, 200, "text/html", loginPage)
		return
	}
	writeResponse(conn, 404, "application/json", `{"error":"not found"}`)
}

func (e *Emulator) handleLogin(ctx context.Context, sess *model.Session, conn net.Conn, req *http.Request) {
	_ = req.ParseForm()
	username := req.FormValue("username")
	password := req.FormValue("password")

	payload := model.JSON{
		"username": username,
		"password": password,
		"path":     req.URL.Path,
		"ua":       req.UserAgent(),
	}
	matches := patterns.ScanHTTPThreats(httpCorpus(payload))
	if len(matches) > 0 {
		payload["threats"] = matchesToJSON(matches)
	}
	e.base.Log(ctx, sess, model.EventAuthAttempt, payload)

	resp := "HTTP/1.1 302 Found\r\nLocation: /?error=1\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	_, _ = conn.Write([]byte(resp))
}

func isNoiseAsset(path string) bool {
	switch path {
	case "/favicon.ico", "/robots.txt", "/apple-touch-icon.png":
		return true
	}
	return strings.HasSuffix(path, ".ico") || strings.HasSuffix(path, ".png")
}

// httpCorpus concatenates the fields spec'd for http_threat scanning:
// path, body, user-agent, query, and header values.
func httpCorpus(payload model.JSON) string {
	var b strings.Builder
	for _, k := range []string{"path", "body", "ua"} {
		if s, ok := payload[k].(string); ok {
			b.WriteString(s)
			b.WriteString(" ")
		}
	}
	switch q := payload["query"].(type) {
	case url.Values:
		writeMultiValues(&b, q)
	case map[string][]string:
		writeMultiValues(&b, q)
	}
	switch h := payload["headers"].(type) {
	case model.JSON:
		writeHeaderValues(&b, h)
	case map[string]string:
		for _, v := range h {
			b.WriteString(v)
			b.WriteString(" ")
		}
	}
	return b.String()
}

func writeMultiValues(b *strings.Builder, values map[string][]string) {
	for _, vs := range values {
		for _, v := range vs {
			b.WriteString(v)
			b.WriteString(" ")
		}
	}
}

func writeHeaderValues(b *strings.Builder, headers model.JSON) {
	for _, v := range headers {
		if s, ok := v.(string); ok {
			b.WriteString(s)
			b.WriteString(" ")
		}
	}
}

func matchesToJSON(matches []patterns.Match) []model.JSON {
	out := make([]model.JSON, 0, len(matches))
	for _, m := range matches {
		out = append(out, model.JSON{"name": m.Name, "severity": string(m.Severity)})
	}
	return out
}

func headersToJSON(h http.Header) model.JSON {
	out := make(model.JSON, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func writeResponse(conn net.Conn, status int, contentType, body string) {
	statusText := http.StatusText(status)
	resp := "HTTP/1.1 " + strconv.Itoa(status) + " " + statusText + "\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: keep-alive\r\n\r\n" + body
	_, _ = conn.Write([]byte(resp))
}
