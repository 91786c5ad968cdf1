// Package web holds the server-rendered pages of the sign-in flow.
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var files embed.FS

// Page template names.
const (
	LoginPage      = "login.html"
	WelcomePage    = "welcome.html"
	FailurePage    = "failure.html"
	DiagnosticPage = "diagnostic.html"
)

// Templates parses every embedded page. Pass the result to
// gin.Engine.SetHTMLTemplate.
func Templates() (*template.Template, error) {
	return template.ParseFS(files, "templates/*.html")
}

// ProviderLink is one entry on the login page.
type ProviderLink struct {
	Name        string
	DisplayName string
	StartURL    string
}
