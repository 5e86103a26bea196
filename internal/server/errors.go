package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/signature"
)

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error(), Retryable: gateway.IsRetryable(err)}

	var (
		modelErr  *model.ModelError
		parseErr  *model.ParseError
		convErr   *model.ConversionError
		configErr *model.ConfigError
		keyErr    *signature.KeyError
		certErr   *signature.CertError
		localErr  *gateway.LocalPreflightError
		remoteErr *gateway.RemoteGatewayError
		cancelErr *gateway.CancellationError
		sigErr    *signature.SignatureError
	)
	switch {
	case errors.As(err, &modelErr), errors.As(err, &parseErr):
		return http.StatusBadRequest, resp
	case errors.As(err, &convErr):
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &localErr):
		resp.Code = localErr.Code
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &configErr), errors.As(err, &keyErr), errors.As(err, &certErr):
		return http.StatusFailedDependency, resp
	case errors.As(err, &sigErr):
		resp.Code = sigErr.Code
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &remoteErr):
		resp.Code = remoteErr.Code
		return http.StatusBadGateway, resp
	case errors.As(err, &cancelErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, resp
	}
	return http.StatusInternalServerError, resp
}

func abortWithError(c *gin.Context, err error) {
	status, resp := statusFor(err)
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
