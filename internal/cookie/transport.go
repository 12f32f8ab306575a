package cookie

import (
	"net/http"
	"time"

	"github.com/rryowa/cookie_auth/internal/service"
	"github.com/rryowa/cookie_auth/internal/util"
)

// Transport maps credentials to and from the access and refresh cookies.
// The access cookie carries the raw JWT; the refresh cookie carries the session key
// signed with the refresh salt.
type Transport struct {
	cfg    *util.CookieConfig
	signer *service.Signer
}

func NewTransport(cfg *util.CookieConfig, signer *service.Signer) *Transport {
	return &Transport{cfg: cfg, signer: signer}
}

// AccessToken returns the access cookie value, if any.
func (t *Transport) AccessToken(r *http.Request) (string, bool) {
	c, err := r.Cookie(t.cfg.AccessName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// RefreshKey returns the session key from the signed refresh cookie.
// A missing cookie, a bad signature and an exceeded max age all read as absent.
func (t *Transport) RefreshKey(r *http.Request, now time.Time) (string, bool) {
	c, err := r.Cookie(t.cfg.RefreshName)
	if err != nil || c.Value == "" {
		return "", false
	}
	key, status := t.signer.Unsign(c.Value, t.cfg.RefreshSalt, t.cfg.RefreshMaxAge, now)
	if status != service.SignatureValid {
		return "", false
	}
	return key, true
}

// SetCredentials writes both cookies for freshly issued credentials.
func (t *Transport) SetCredentials(w http.ResponseWriter, creds *service.Credentials, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.cfg.AccessName,
		Value:    creds.AccessToken,
		Path:     t.cfg.AccessPath,
		Expires:  creds.AccessClaims.Expiry(),
		HttpOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: t.cfg.SameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     t.cfg.RefreshName,
		Value:    t.signer.Sign(creds.Session.SessionKey, t.cfg.RefreshSalt, now),
		Path:     t.cfg.RefreshPath,
		Expires:  creds.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: t.cfg.SameSite,
	})
}

// Clear expires both cookies on the client.
func (t *Transport) Clear(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{t.cfg.AccessName, t.cfg.AccessPath},
		{t.cfg.RefreshName, t.cfg.RefreshPath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   t.cfg.Secure,
			SameSite: t.cfg.SameSite,
		})
	}
}
