package config

import "strings"

// ServerConfig holds the paths of the authentication endpoints. The login and
// logout routes live under Prefix; the provider callbacks are registered with
// the identity provider and therefore configured as absolute paths.
type ServerConfig interface {
	GetRoutePrefix() string
	GetCallbackPath() string
	GetSignedOutCallbackPath() string
}

type RouteSettings struct {
	Prefix            string `yaml:"prefix" validate:"required,startswith=/"`
	Callback          string `yaml:"callback" validate:"required,startswith=/"`
	SignedOutCallback string `yaml:"signed_out_callback" validate:"required,startswith=/"`
}

func (c *mainConfig) GetRoutePrefix() string {
	return strings.TrimSuffix(c.s.Routes.Prefix, "/")
}

func (c *mainConfig) GetCallbackPath() string {
	return c.s.Routes.Callback
}

func (c *mainConfig) GetSignedOutCallbackPath() string {
	return c.s.Routes.SignedOutCallback
}
