package api

import (
	"database/sql"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/erazemk/tansu/internal/store"
)

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Name}} - sign in</title></head>
<body>
<h1>{{.Name}}</h1>
<form id="login" data-tenant="{{.Slug}}">
<label>PIN <input type="password" name="pin" inputmode="numeric" autocomplete="off" required></label>
<label><input type="checkbox" name="remember"> Remember this device</label>
<button type="submit">Sign in</button>
</form>
<script>
document.getElementById("login").addEventListener("submit", async (e) => {
  e.preventDefault();
  const f = e.target;
  const res = await fetch("/api/auth/login", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({pin: f.pin.value, tenant_slug: f.dataset.tenant, remember: f.remember.checked}),
  });
  if (res.ok) {
    const body = await res.json();
    if (body.remember_token) localStorage.setItem("remember_token", body.remember_token);
    location.href = "/";
  } else {
    f.pin.value = "";
  }
});
</script>
</body>
</html>
`))

// PagesHandler serves the browser-facing pages.
type PagesHandler struct {
	DB *sql.DB
}

// Login handles GET /login.
func (h *PagesHandler) Login(w http.ResponseWriter, r *http.Request) {
	slug := TenantSlug(r.Context())
	t, err := store.GetTenantBySlug(r.Context(), h.DB, slug)
	if err != nil {
		slog.Error("failed to load tenant", "tenant", slug, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if t == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTmpl.Execute(w, t); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}
