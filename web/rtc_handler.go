package web

import (
	"net/http"

	"github.com/firgia/soca/types"
)

func (h *Handler) rtcCredential(w http.ResponseWriter, r *http.Request) {
	var in types.RequestRTCCredential
	if err := decodeBody(r, &in); err != nil {
		h.respondErr(w, r, err)
		return
	}

	out, err := h.Service.RTCCredential(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}
