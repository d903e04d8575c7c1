package server

import (
	"html/template"
	"net/http"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// ErrorReporter formats error responses. With Nice set it renders an html
// page instead of the plain status text, either from the user template or
// the built-in one.
type ErrorReporter struct {
	Template string
	Nice     bool

	parsed *template.Template
	once   sync.Once
}

// Report sends the error page (or plain status text) for the given code
func (er *ErrorReporter) Report(w http.ResponseWriter, code int) {
	if !er.Nice {
		http.Error(w, http.StatusText(code), code)
		return
	}

	er.once.Do(func() {
		tmpl := er.Template
		if tmpl == "" {
			tmpl = errDefaultTemplate
		}
		var err error
		if er.parsed, err = template.New("error").Parse(tmpl); err != nil {
			log.Printf("[WARN] can't parse error template, %v", err)
		}
	})

	if er.parsed == nil {
		http.Error(w, http.StatusText(code), code)
		return
	}

	msg := struct {
		ErrCode    int
		ErrMessage string
	}{ErrCode: code, ErrMessage: http.StatusText(code)}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := er.parsed.Execute(w, &msg); err != nil {
		log.Printf("[WARN] failed to render error page, %v", err)
	}
}

var errDefaultTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.ErrMessage}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
            background: #f5f6f7;
            color: #2c3e50;
            display: flex;
            align-items: center;
            justify-content: center;
            height: 100vh;
            margin: 0;
        }
        .box {
            text-align: center;
            padding: 2em 3em;
            background: #fff;
            border-radius: 6px;
            box-shadow: 0 1px 4px rgba(0, 0, 0, 0.15);
        }
        .code {
            font-size: 4em;
            font-weight: 700;
            margin: 0;
            color: #e74c3c;
        }
        .message {
            font-size: 1.2em;
            margin: 0.5em 0 0;
        }
    </style>
</head>
<body>
<div class="box">
    <p class="code">{{.ErrCode}}</p>
    <p class="message">{{.ErrMessage}}</p>
    <p>The service is temporarily unavailable. Please try again in a few minutes.</p>
</div>
</body>
</html>
`
