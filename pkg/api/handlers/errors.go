package handlers

import (
	"net/http"

	"pagestore/pkg/logger"
	"pagestore/pkg/remote"
	"pagestore/pkg/utils"
)

// writeError maps a store error onto the HTTP surface. Rate limit
// rejections carry a Retry-After hint when one is known.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch remote.KindOf(err) {
	case remote.KindNotFound:
		utils.JSONError(w, http.StatusNotFound, "not found")
	case remote.KindAlreadyExists:
		utils.JSONError(w, http.StatusConflict, "already exists")
	case remote.KindPermissionDenied, remote.KindUnverified:
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	case remote.KindValidation:
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case remote.KindRateLimited:
		utils.JSONErrorRetry(w, http.StatusTooManyRequests, "rate limit exceeded", remote.RetryAfterOf(err))
	default:
		logger.Error("handler_error", "path", r.URL.Path, "error", err)
		utils.JSONError(w, http.StatusBadGateway, "upstream error")
	}
}
