package auth

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
)

type providerLink struct {
	Name string
	URL  string
}

type pageData struct {
	Title       string
	Error       string
	Providers   []providerLink
	Action      string
	CSRFToken   string
	CallbackURL string
	HomeURL     string
}

const layout = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;justify-content:center;padding-top:10vh;background:#f5f5f5}
.card{background:#fff;padding:2rem;border-radius:8px;min-width:320px;box-shadow:0 1px 4px rgba(0,0,0,.1)}
.button{display:block;margin:.5rem 0;padding:.75rem;text-align:center;border:1px solid #ccc;border-radius:4px;color:#111;text-decoration:none;background:#fff;width:100%;font-size:1rem;cursor:pointer}
.error{color:#b00020}
</style>
</head>
<body><div class="card">{{template "content" .}}</div></body>
</html>{{end}}`

var pageTemplates = map[string]string{
	"signin": `{{define "content"}}<h1>Sign in</h1>
{{with .Error}}<p class="error">{{.}}</p>{{end}}
{{range .Providers}}<a class="button" href="{{.URL}}">Sign in with {{.Name}}</a>
{{else}}<p>No providers are configured.</p>{{end}}{{end}}`,

	"signout": `{{define "content"}}<h1>Sign out</h1>
<p>Are you sure you want to sign out?</p>
<form method="post" action="{{.Action}}">
<input type="hidden" name="csrfToken" value="{{.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{.CallbackURL}}">
<button class="button" type="submit">Sign out</button>
</form>{{end}}`,

	"error": `{{define "content"}}<h1>Unable to sign in</h1>
{{with .Error}}<p class="error">{{.}}</p>{{end}}
<a class="button" href="{{.HomeURL}}">Home</a>{{end}}`,

	"verify-request": `{{define "content"}}<h1>Check your email</h1>
<p>A sign in link has been sent to your email address.</p>
<a class="button" href="{{.HomeURL}}">Home</a>{{end}}`,
}

var pages = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(pageTemplates))
	for name, content := range pageTemplates {
		t := template.Must(template.New(name).Parse(layout))
		out[name] = template.Must(t.Parse(content))
	}
	return out
}()

func (a *Adapter) render(w http.ResponseWriter, status int, name string, data pageData) error {
	t, ok := pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}
