package web

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	Service     *service.Service
	Verifier    *auth.Verifier
	ErrorLogger *slog.Logger

	handler http.Handler
	once    sync.Once
}

func (h *Handler) init() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/calls", h.createCall)
	mux.HandleFunc("GET /api/calls/{callID}", h.call)
	mux.HandleFunc("POST /api/calls/{callID}/answer", h.answerCall)
	mux.HandleFunc("POST /api/calls/{callID}/decline", h.declineCall)
	mux.HandleFunc("POST /api/calls/{callID}/end", h.endCall)
	mux.HandleFunc("PATCH /api/calls/{callID}/settings", h.updateCallSettings)
	mux.HandleFunc("GET /api/call_history", h.callHistory)
	mux.HandleFunc("GET /api/call_statistic", h.callStatistic)
	mux.HandleFunc("POST /api/rtc_credentials", h.rtcCredential)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("/", h.notFound)

	h.handler = h.withUser(mux)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.once.Do(h.init)
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.respondErr(w, r, errRouteNotFound)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, map[string]string{"status": "ok"}, http.StatusOK)
}
