package web

import (
	"net/http"

	"github.com/firgia/soca/types"
)

func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.CreateCall(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusCreated)
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.Call(r.Context(), types.RetrieveCall{
		CallID: r.PathValue("callID"),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}

func (h *Handler) answerCall(w http.ResponseWriter, r *http.Request) {
	var in types.AnswerCall
	if err := decodeBody(r, &in); err != nil {
		h.respondErr(w, r, err)
		return
	}

	in.CallID = r.PathValue("callID")
	out, err := h.Service.AnswerCall(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}

func (h *Handler) declineCall(w http.ResponseWriter, r *http.Request) {
	var in types.DeclineCall
	if err := decodeBody(r, &in); err != nil {
		h.respondErr(w, r, err)
		return
	}

	in.CallID = r.PathValue("callID")
	out, err := h.Service.DeclineCall(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}

func (h *Handler) endCall(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.EndCall(r.Context(), types.EndCall{
		CallID: r.PathValue("callID"),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}

func (h *Handler) updateCallSettings(w http.ResponseWriter, r *http.Request) {
	var in types.UpdateCallSettings
	if err := decodeBody(r, &in); err != nil {
		h.respondErr(w, r, err)
		return
	}

	in.CallID = r.PathValue("callID")
	out, err := h.Service.UpdateCallSettings(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, r, out, http.StatusOK)
}
