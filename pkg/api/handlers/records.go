package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"pagestore/pkg/auth"
	"pagestore/pkg/records"
	"pagestore/pkg/utils"
	"pagestore/pkg/validation"
)

// RegisterRecords registers the record routes on the provided router.
// Only keys present in the registry are created on first read; everything
// else is lookup-only.
func RegisterRecords(r *mux.Router, m *records.Manager, reg *records.Registry, namespace string) {
	r.HandleFunc("/records", func(w http.ResponseWriter, req *http.Request) {
		listRecordKeys(w, req, reg)
	}).Methods(http.MethodGet)
	r.HandleFunc("/records/{key}", func(w http.ResponseWriter, req *http.Request) {
		getRecord(w, req, m, reg, namespace)
	}).Methods(http.MethodGet)
	r.HandleFunc("/records/{key}", func(w http.ResponseWriter, req *http.Request) {
		putRecord(w, req, m, namespace)
	}).Methods(http.MethodPut)
}

// listRecordKeys handles GET /v1/records and returns the well-known keys.
func listRecordKeys(w http.ResponseWriter, _ *http.Request, reg *records.Registry) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string][]string{"keys": reg.Keys()})
}

// getRecord handles GET /v1/records/{key}. Well-known keys are created
// on first access using their registered factory.
func getRecord(w http.ResponseWriter, r *http.Request, m *records.Manager, reg *records.Registry, namespace string) {
	key := mux.Vars(r)["key"]
	if err := validation.ValidateKey(key); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := m.GetOrCreate(r.Context(), namespace, key, reg.Factory(key))
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rec)
}

// putRecord handles PUT /v1/records/{key} and replaces the record body.
// Restricted to backend and admin keys.
func putRecord(w http.ResponseWriter, r *http.Request, m *records.Manager, namespace string) {
	role := auth.RoleFromContext(r.Context())
	if role != auth.RoleBackend && role != auth.RoleAdmin {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	key := mux.Vars(r)["key"]
	if err := validation.ValidateKey(key); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
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
	rec, err := m.Update(r.Context(), namespace, key, func(string) (string, error) {
		return in.Body, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rec)
}
