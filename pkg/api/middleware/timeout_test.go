package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goclaw/simnet/pkg/api/response"
	"github.com/goclaw/simnet/pkg/logger"
)

func TestTimeout(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		handlerDelay time.Duration
		wantStatus   int
	}{
		{"completes in time", 200 * time.Millisecond, 5 * time.Millisecond, http.StatusAccepted},
		{"times out", 20 * time.Millisecond, 200 * time.Millisecond, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.handlerDelay)
				w.Header().Set("Location", "/api/v1/runs/run-1")
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte(`{"id":"run-1"}`))
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
			w := httptest.NewRecorder()
			RequestID()(Timeout(tt.timeout)(handler)).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusAccepted {
				if got := w.Header().Get("Location"); got != "/api/v1/runs/run-1" {
					t.Errorf("Location = %q", got)
				}
				if w.Body.String() != `{"id":"run-1"}` {
					t.Errorf("body = %q", w.Body.String())
				}
				return
			}

			var errResp response.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if errResp.Error.Code != response.ErrCodeGatewayTimeout {
				t.Errorf("code = %q", errResp.Error.Code)
			}
			if errResp.Error.RequestID == "" || errResp.Error.RequestID == "unknown" {
				t.Errorf("request id = %q", errResp.Error.RequestID)
			}
			if w.Header().Get("Location") != "" {
				t.Error("late handler header leaked into the timeout response")
			}
		})
	}
}

func TestTimeoutLateWritesFail(t *testing.T) {
	lateErr := make(chan error, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		_, err := w.Write([]byte("too late"))
		lateErr <- err
	})

	w := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	select {
	case err := <-lateErr:
		if !errors.Is(err, http.ErrHandlerTimeout) {
			t.Errorf("late write error = %v, want ErrHandlerTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never wrote")
	}
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", w.Code)
	}
}

func TestTimeoutPanicReachesRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("module table corrupt")
	})

	w := httptest.NewRecorder()
	Recovery(logger.NewNop())(Timeout(time.Second)(handler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestTimeoutDisabled(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("disabled timeout set a deadline")
		}
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	Timeout(0)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	if !called || w.Code != http.StatusNoContent {
		t.Errorf("called = %v, status = %d", called, w.Code)
	}
}
