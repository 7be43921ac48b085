package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"pagestore/pkg/auth"
	"pagestore/pkg/threads"
	"pagestore/pkg/utils"
	"pagestore/pkg/validation"
)

// RegisterThreads registers the comment thread routes on the provided router.
func RegisterThreads(r *mux.Router, s *threads.Store, namespace string) {
	r.HandleFunc("/threads/{section}/{page}/comments", func(w http.ResponseWriter, req *http.Request) {
		listThreadComments(w, req, s, namespace)
	}).Methods(http.MethodGet)
	r.HandleFunc("/threads/{section}/{page}/comments", func(w http.ResponseWriter, req *http.Request) {
		createThreadComment(w, req, s, namespace)
	}).Methods(http.MethodPost)
	r.HandleFunc("/threads/{section}/{page}/comments/{id}", func(w http.ResponseWriter, req *http.Request) {
		editThreadComment(w, req, s, namespace)
	}).Methods(http.MethodPatch)
}

// listThreadComments handles GET /v1/threads/{section}/{page}/comments.
// The optional "page" query parameter selects the comment page, starting
// at 1. A thread whose record does not exist yet lists as empty.
func listThreadComments(w http.ResponseWriter, r *http.Request, s *threads.Store, namespace string) {
	vars := mux.Vars(r)
	pageNum := 1
	if q := r.URL.Query().Get("page"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			utils.JSONError(w, http.StatusBadRequest, "invalid page")
			return
		}
		pageNum = n
	}
	pg, err := s.ListPage(r.Context(), namespace, vars["section"], vars["page"], pageNum)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, pg)
}

// createThreadComment handles POST /v1/threads/{section}/{page}/comments.
// The acting user comes from the X-Actor-Login header resolved by the
// gateway; requests without one are rejected.
func createThreadComment(w http.ResponseWriter, r *http.Request, s *threads.Store, namespace string) {
	actor := auth.ActorFromContext(r.Context())
	if actor == "" {
		utils.JSONError(w, http.StatusUnauthorized, "actor login required")
		return
	}
	var in struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateBody(in.Body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	vars := mux.Vars(r)
	c, err := s.Append(r.Context(), namespace, vars["section"], vars["page"], actor, actor, in.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

// editThreadComment handles PATCH /v1/threads/{section}/{page}/comments/{id}.
// Only the comment's author may edit it.
func editThreadComment(w http.ResponseWriter, r *http.Request, s *threads.Store, namespace string) {
	actor := auth.ActorFromContext(r.Context())
	if actor == "" {
		utils.JSONError(w, http.StatusUnauthorized, "actor login required")
		return
	}
	var in struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateBody(in.Body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	vars := mux.Vars(r)
	c, err := s.Edit(r.Context(), namespace, vars["section"], vars["page"], vars["id"], actor, in.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}
