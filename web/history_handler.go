package web

import (
	"net/http"
	"strconv"

	"github.com/firgia/soca/types"
)

func (h *Handler) callHistory(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.CallHistory(r.Context(), types.ListCallHistory{
		PageArgs: parsePageArgs(r),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}

func (h *Handler) callStatistic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// a malformed year becomes zero and fails validation
	year, _ := strconv.Atoi(q.Get("year"))

	locale := q.Get("locale")
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}

	out, err := h.Service.CallStatistic(r.Context(), types.RetrieveCallStatistic{
		Year:   year,
		Locale: locale,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}
