package config

import (
	"net/http"
	"strings"
)

// MinSecretLength is the shortest cookie secret accepted.
const MinSecretLength = 32

type CookieConfig interface {
	GetCookieName() string
	GetCookieSecrets() []string
	GetCookieSecure() bool
	GetCookieSameSite() http.SameSite
	GetCookieDomain() string
	GetCookiePath() string
}

// CookieSettings configures the session cookie. The first secret encrypts new
// cookies; the others are only used to read cookies issued before a rotation.
type CookieSettings struct {
	Name     string   `yaml:"name" validate:"required,printascii"`
	Secrets  []string `yaml:"secrets" validate:"required,min=1"`
	Secure   bool     `yaml:"secure"`
	SameSite string   `yaml:"same_site" validate:"oneof=lax strict Lax Strict"`
	Domain   string   `yaml:"domain"`
	Path     string   `yaml:"path" validate:"required,startswith=/"`
}

func (c *mainConfig) GetCookieName() string {
	return c.s.Cookie.Name
}

func (c *mainConfig) GetCookieSecrets() []string {
	return append([]string(nil), c.s.Cookie.Secrets...)
}

func (c *mainConfig) GetCookieSecure() bool {
	return c.s.Cookie.Secure
}

func (c *mainConfig) GetCookieSameSite() http.SameSite {
	if strings.EqualFold(c.s.Cookie.SameSite, "strict") {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

func (c *mainConfig) GetCookieDomain() string {
	return c.s.Cookie.Domain
}

func (c *mainConfig) GetCookiePath() string {
	return c.s.Cookie.Path
}

const cookieNameSeparators = "()<>@,;:\\\"/[]?={} \t"
