package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"arena-api/internal/svc"
)

// RegisterHandlers wires the HTTP surface: the tick trigger and a probe.
func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodPost,
			Path:    "/tick/:sessionId",
			Handler: TickHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/healthz",
			Handler: HealthHandler(serverCtx),
		},
	})
}
