package middleware

import (
	"html/template"
	"net/http"

	"elogbook-sso/internal/logger"

	"github.com/gin-gonic/gin"
)

const popupArmedKey = "popup.armed"

var popupPage = template.Must(template.New("popup").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Signing in…</title>
<script>
  try {
    if (window.opener) {
      window.opener.location.href = {{.}};
    } else {
      window.location.href = {{.}};
    }
  } catch (e) {}
  setTimeout(function () { window.close(); }, 1500);
</script>
</head>
<body>
<p>Signing in… If you are not redirected, <a href="{{.}}">continue</a>.</p>
</body>
</html>
`))

// ArmPopup marks the current response as the last hop of a popup login.
func ArmPopup(c *gin.Context) {
	c.Set(popupArmedKey, true)
}

// popupWriter holds back a redirect when the request is armed.
type popupWriter struct {
	gin.ResponseWriter
	c    *gin.Context
	held bool
}

func (w *popupWriter) WriteHeader(code int) {
	if code >= 300 && code < 400 && w.c.GetBool(popupArmedKey) {
		w.held = true
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *popupWriter) WriteHeaderNow() {
	if w.held {
		return
	}
	w.ResponseWriter.WriteHeaderNow()
}

func (w *popupWriter) Write(b []byte) (int, error) {
	if w.held {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *popupWriter) WriteString(s string) (int, error) {
	if w.held {
		return len(s), nil
	}
	return w.ResponseWriter.WriteString(s)
}

// PopupBridge turns the final redirect of a popup login into a page that
// navigates the opener (or the popup itself) and closes the window.
func PopupBridge() gin.HandlerFunc {
	return func(c *gin.Context) {
		w := &popupWriter{ResponseWriter: c.Writer, c: c}
		c.Writer = w
		c.Next()
		c.Writer = w.ResponseWriter

		if !w.held {
			return
		}

		target := c.Writer.Header().Get("Location")
		c.Writer.Header().Del("Location")
		if target == "" {
			target = "/"
		}

		c.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
		c.Writer.Header().Set("Cache-Control", "no-store")
		c.Writer.WriteHeader(http.StatusOK)
		if err := popupPage.Execute(c.Writer, target); err != nil {
			logger.Error("popup bridge render failed", map[string]any{
				"component": "popup",
				"error":     err.Error(),
			})
		}
	}
}
