package server

import (
	"bytes"
	"html/template"
	"net/http"
	"unicode/utf8"
)

const pageCSP = "default-src 'none'; style-src 'unsafe-inline'; script-src 'unsafe-inline'; frame-ancestors 'none'"

const pageStyle = `
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Arial, sans-serif; margin: 0; height: 100vh;
  display: flex; flex-direction: column; justify-content: center; align-items: center; text-align: center; }
.ok { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; }
.headline { font-size: 24px; margin-bottom: 20px; }
.message { margin: 12px 0; opacity: 0.9; }
.user-id { font-size: 12px; opacity: 0.7; margin-top: 10px; }
button { background: rgba(255,255,255,0.2); border: 1px solid rgba(255,255,255,0.3); color: inherit;
  padding: 10px 20px; border-radius: 6px; cursor: pointer; font-size: 14px; margin-top: 20px; }
`

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Notion Connected Successfully</title>
<style>{{.Style}}</style>
</head>
<body class="ok">
<div class="headline">✅ Successfully Connected to Notion!</div>
<div class="message">You can now close this window and return to the Noted extension.</div>
{{if .WorkspaceName}}<div class="message">Workspace: {{.WorkspaceName}}</div>{{end}}
<div class="user-id">User ID: {{.ShortUserID}}</div>
<div id="user-id" data-state="{{.State}}" style="display: none;">{{.UserID}}</div>
<button onclick="window.close()">Close Window</button>
<script>setTimeout(function () { window.close(); }, 3000);</script>
</body>
</html>
`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Connection Failed</title>
<style>{{.Style}}</style>
</head>
<body>
<div class="headline" style="color: #dc2626;">❌ Connection Failed</div>
<div class="message">{{.Message}}</div>
<div class="message">Please try again or check your Notion integration settings.</div>
<script>setTimeout(function () { window.close(); }, 5000);</script>
</body>
</html>
`))

type successPageData struct {
	Style         template.CSS
	UserID        string
	ShortUserID   string
	WorkspaceName string
	State         string
}

type errorPageData struct {
	Style   template.CSS
	Message string
}

func renderSuccessPage(w http.ResponseWriter, userID, workspaceName, state string) {
	renderPage(w, http.StatusOK, successPage, successPageData{
		Style:         template.CSS(pageStyle),
		UserID:        userID,
		ShortUserID:   shortID(userID),
		WorkspaceName: workspaceName,
		State:         state,
	})
}

func renderErrorPage(w http.ResponseWriter, status int, message string) {
	renderPage(w, status, errorPage, errorPageData{
		Style:   template.CSS(pageStyle),
		Message: message,
	})
}

func renderPage(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Security-Policy", pageCSP)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// shortID abbreviates long ids as "first8...last8".
func shortID(id string) string {
	if utf8.RuneCountInString(id) <= 16 {
		return id
	}
	r := []rune(id)
	return string(r[:8]) + "..." + string(r[len(r)-8:])
}
