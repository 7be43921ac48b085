package api

import (
	"github.com/gorilla/mux"

	"pagestore/pkg/api/handlers"
	"pagestore/pkg/reactions"
	"pagestore/pkg/records"
	"pagestore/pkg/threads"
)

// Services carries the stores the HTTP surface is built on.
type Services struct {
	Records   *records.Manager
	Registry  *records.Registry
	Threads   *threads.Store
	Reactions *reactions.Reconciler
	Namespace string
}

// Register mounts the v1 API routes on the provided router.
func Register(r *mux.Router, s Services) {
	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterRecords(v1, s.Records, s.Registry, s.Namespace)
	handlers.RegisterThreads(v1, s.Threads, s.Namespace)
	handlers.RegisterReactions(v1, s.Reactions)
}
