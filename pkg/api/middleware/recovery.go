package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/simnet/pkg/api/response"
	"github.com/goclaw/simnet/pkg/logger"
)

// Recovery turns a handler panic into a 500 envelope. The panic value is
// logged with the stack and recorded on the request span but never sent to
// the client. http.ErrAbortHandler is re-raised so net/http can drop the
// connection.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrapWriter(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(p)
				}

				ctx := r.Context()
				log.ErrorContext(ctx, "Panic recovered",
					"panic", p,
					"path", r.URL.Path,
					"method", r.Method,
					"stack", string(debug.Stack()),
				)
				if span := trace.SpanFromContext(ctx); span.IsRecording() {
					span.RecordError(fmt.Errorf("panic: %v", p))
					span.SetStatus(otelcodes.Error, "panic")
				}
				// Nothing sensible can follow a partial response.
				if sw.written {
					return
				}

				requestID := GetRequestID(ctx)
				if requestID == "" {
					requestID = "unknown"
				}
				response.Error(sw, http.StatusInternalServerError, response.ErrCodeInternalServer,
					response.ErrInternalServer.Error(), requestID)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
