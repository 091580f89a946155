package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"arena-api/internal/svc"
)

type healthResponse struct {
	Status string `json:"status"`
	Env    string `json:"env"`
}

// HealthHandler answers liveness probes.
func HealthHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJsonCtx(r.Context(), w, http.StatusOK, healthResponse{
			Status: "ok",
			Env:    serverCtx.Config.Env,
		})
	}
}
