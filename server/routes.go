package server

import (
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

func (s *Server) initRoutes() {
	prefix := s.config.GetRoutePrefix()

	s.RegisterRouteHandler("GET "+RouteHome+"{$}", ChainMiddleware(s.IndexHandler(), s.HTMLMiddleWare(s.SessionGate)...))
	s.RegisterRouteHandler("GET "+RouteProfile, ChainMiddleware(s.ProfileHandler(), s.HTMLMiddleWare(s.SessionGate, s.RequireAuthenticated)...))

	// LOGIN
	s.RegisterRouteHandler("GET "+prefix+RouteLogin, ChainMiddleware(s.LoginHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+s.config.GetCallbackPath(), ChainMiddleware(s.CallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+s.config.GetCallbackPath(), ChainMiddleware(s.CallbackHandler(), s.HTMLMiddleWare()...)) // For form_post response mode

	// LOGOUT
	s.RegisterRouteHandler("POST "+prefix+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare(s.CrossOriginMiddleware)...))
	s.RegisterRouteHandler("GET "+s.config.GetSignedOutCallbackPath(), ChainMiddleware(s.SignedOutHandler(), s.HTMLMiddleWare()...))

	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))
	if s.metrics != nil {
		s.mux.Handle("GET "+RouteMetrics, s.metrics.Handler())
		s.routes = append(s.routes, "GET "+RouteMetrics)
	}

	s.RegisterRouteHandler("GET "+RouteStaticCSS, ChainMiddleware(s.serveFileHandler(), s.HTMLMiddleWare(s.CacheMiddleware, s.CompressionMiddleware)...))
}

// serveFileHandler streams an embedded static asset.
func (s *Server) serveFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		data, err := fs.ReadFile(StaticFilesFS(), name)
		if err != nil {
			logError(r.Method, name, err.Error())
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}

		ctype := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
		if ctype == "" {
			ctype = http.DetectContentType(data)
		}
		if strings.HasPrefix(ctype, "text/") && !strings.Contains(strings.ToLower(ctype), "charset=") {
			ctype += "; charset=utf-8"
		}
		w.Header().Set("Content-Type", ctype)
		if _, err := w.Write(data); err != nil {
			hlog.FromRequest(r).Debug().Err(err).Str("file", name).Msg("writing static asset")
		}
	}
}

func logError(method, path, msg string) {
	log.Warn().Str("method", method).Str("path", path).Msg(msg)
}
