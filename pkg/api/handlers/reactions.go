package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"pagestore/pkg/auth"
	"pagestore/pkg/models"
	"pagestore/pkg/reactions"
	"pagestore/pkg/utils"
)

// RegisterReactions registers the reaction routes on the provided router.
func RegisterReactions(r *mux.Router, rec *reactions.Reconciler) {
	r.HandleFunc("/comments/{id}/reactions", func(w http.ResponseWriter, req *http.Request) {
		listReactions(w, req, rec)
	}).Methods(http.MethodGet)
	r.HandleFunc("/comments/{id}/reactions/toggle", func(w http.ResponseWriter, req *http.Request) {
		toggleReaction(w, req, rec)
	}).Methods(http.MethodPost)
}

// listReactions handles GET /v1/comments/{id}/reactions.
func listReactions(w http.ResponseWriter, r *http.Request, rec *reactions.Reconciler) {
	set, err := rec.Set(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string][]models.Reaction{"reactions": set})
}

// toggleReaction handles POST /v1/comments/{id}/reactions/toggle. A
// failed toggle is rolled back server-side; clients refetch the set
// with GET after a 429 or 502.
func toggleReaction(w http.ResponseWriter, r *http.Request, rec *reactions.Reconciler) {
	actor := auth.ActorFromContext(r.Context())
	if actor == "" {
		utils.JSONError(w, http.StatusUnauthorized, "actor login required")
		return
	}
	var in struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	set, err := rec.Toggle(r.Context(), mux.Vars(r)["id"], actor, in.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string][]models.Reaction{"reactions": set})
}
