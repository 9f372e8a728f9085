package api

import (
	"encoding/json"
	"net/http"
)

type cornerBody struct {
	Key    string  `json:"key,omitempty"`
	Action *string `json:"action"`
}

func (h *Handlers) getZone(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.zone.Snapshot())
}

func (h *Handlers) getCorner(w http.ResponseWriter, r *http.Request) {
	c, key, err := cornerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	action := h.zone.Action(c)
	writeJSON(w, http.StatusOK, cornerBody{Key: key, Action: &action})
}

func (h *Handlers) setCorner(w http.ResponseWriter, r *http.Request) {
	c, _, err := cornerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body cornerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errBadRequest("invalid JSON: "+err.Error()))
		return
	}
	if body.Action == nil {
		writeError(w, errBadRequest("missing action"))
		return
	}
	h.zone.SetAction(c, *body.Action)
	writeJSON(w, http.StatusOK, h.zone.Snapshot())
}

func (h *Handlers) save(w http.ResponseWriter, r *http.Request) {
	if err := h.zone.Save(); err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, h.zone.Snapshot())
}
