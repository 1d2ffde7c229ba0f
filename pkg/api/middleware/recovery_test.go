package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goclaw/simnet/pkg/api/response"
	"github.com/goclaw/simnet/pkg/logger"
)

func TestRecovery(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		shouldPanic bool
		wantStatus  int
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "panic with string",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("secret storage path /var/lib/simnet")
			},
			shouldPanic: true,
			wantStatus:  http.StatusInternalServerError,
		},
		{
			name: "panic with error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic(errors.New("nil run state"))
			},
			shouldPanic: true,
			wantStatus:  http.StatusInternalServerError,
		},
		{
			name: "panic after the header went out",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				panic("late")
			},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrappedHandler := RequestID()(Recovery(logger.NewNop())(tt.handler))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			req.Header.Set(RequestIDHeader, "test-123")
			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !tt.shouldPanic {
				return
			}

			var errResp response.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if errResp.Error.Code != response.ErrCodeInternalServer {
				t.Errorf("code = %q", errResp.Error.Code)
			}
			if errResp.Error.RequestID != "test-123" {
				t.Errorf("request id = %q, want test-123", errResp.Error.RequestID)
			}
			if strings.Contains(w.Body.String(), "secret") || strings.Contains(w.Body.String(), "nil run state") {
				t.Errorf("panic value leaked to the client: %s", w.Body.String())
			}
		})
	}
}

func TestRecoveryReraisesAbort(t *testing.T) {
	handler := Recovery(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Errorf("recovered %v, want ErrAbortHandler", p)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("ErrAbortHandler was swallowed")
}
