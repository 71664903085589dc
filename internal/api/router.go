package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"loanflow/internal/auth"
)

// Docs configures the OpenAPI and Swagger UI endpoints.
type Docs struct {
	OktaIssuer      string
	SwaggerClientID string
}

// NewRouter builds the echo instance serving health probes, docs, the auth
// flow and the authenticated /api/v1 routes.
func NewRouter(s *Server, authz *auth.Auth, docs Docs) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", s.HandleHealth)
	e.GET("/readyz", s.HandleReady)

	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(docs.OktaIssuer)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler(docs.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(OAuthRedirectHandler)))

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	read := echo.WrapMiddleware(auth.RequireScope(auth.ScopeRead))
	write := echo.WrapMiddleware(auth.RequireScope(auth.ScopeWrite))

	g := e.Group("/api/v1")
	g.Use(echo.WrapMiddleware(authz.RequireAuth))
	g.GET("/workflows", s.ListWorkflows, read)
	g.GET("/workflows/:id", s.GetWorkflow, read)
	g.GET("/workflows/:id/steps", s.ListSteps, read)
	g.POST("/workflows/:id/run", s.RunWorkflow, write)

	return e
}
