package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/model"
)

// statusFor maps an error kind to its HTTP status
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAssembly, model.KindSignature, model.KindVoidIneligible:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict, model.KindSequenceConflict:
		return http.StatusConflict
	case model.KindTransport, model.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status of its kind. result is the partial outcome, if any.
func (s *Server) fail(c *gin.Context, err error, result interface{}) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	_ = c.Error(err)

	resp := ErrorResponse{
		Error:  err.Error(),
		Kind:   kind.String(),
		Result: result,
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}
