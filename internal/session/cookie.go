// Package session carries the refresh token between server and browser in an
// HTTP-only cookie.
package session

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// CookieName is the refresh token cookie.
const CookieName = "refreshToken"

// Transport writes and clears the refresh cookie.
type Transport struct {
	secure   bool
	sameSite string
	maxAge   time.Duration
}

// NewTransport returns a Transport. Production cookies are Secure with
// SameSite=Strict; elsewhere SameSite=Lax so local frontends on another port
// keep working.
func NewTransport(production bool, maxAge time.Duration) *Transport {
	t := &Transport{secure: production, sameSite: fiber.CookieSameSiteLaxMode, maxAge: maxAge}
	if production {
		t.sameSite = fiber.CookieSameSiteStrictMode
	}
	return t
}

// Set stores token in the response cookie.
func (t *Transport) Set(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(t.maxAge.Seconds()),
		Expires:  time.Now().Add(t.maxAge),
		Secure:   t.secure,
		HTTPOnly: true,
		SameSite: t.sameSite,
	})
}

// Clear expires the cookie on the client.
func (t *Transport) Clear(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		Secure:   t.secure,
		HTTPOnly: true,
		SameSite: t.sameSite,
	})
}

// Read returns the refresh token sent by the client, or "".
func (t *Transport) Read(c *fiber.Ctx) string {
	return c.Cookies(CookieName)
}
