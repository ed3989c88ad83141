package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/lock"
	"spendchain/pkg/logger"
)

func newEngine(handler gin.HandlerFunc, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Trace(), Logger(logger.Nop()), ErrorHandler())
	r.GET("/", append(extra, handler)...)
	return r
}

func serve(t *testing.T, r *gin.Engine, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestErrorHandler_AppError(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		_ = c.Error(apperror.NewBudgetInsufficient(300_000, 400_000))
	})
	w, body := serve(t, r, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeBudgetInsufficient, body["code"])
	assert.Equal(t, body["error"], body["message"])
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 100_000, details["écart"])
}

func TestErrorHandler_LockTimeoutIsConflict(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		_ = c.Error(lock.NotAcquired("budget-line:63-FORMATION", context.DeadlineExceeded))
	})
	w, body := serve(t, r, nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeConcurrentModification, body["code"])
	assert.NotContains(t, w.Body.String(), "deadline")
}

func TestErrorHandler_HidesInternalCause(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		_ = c.Error(errors.New("pq: password authentication failed"))
	})
	w, body := serve(t, r, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.NotContains(t, w.Body.String(), "password")
}

func TestRecovery(t *testing.T) {
	r := newEngine(func(c *gin.Context) { panic("boom") })
	w, body := serve(t, r, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestTrace_PropagatesRequestID(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": appctx.GetRequestID(c.Request.Context())})
	})
	w, body := serve(t, r, map[string]string{HeaderRequestID: "req-42"})

	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", body["request_id"])
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

type stubAuthn struct {
	user *appctx.UserContext
	err  error
}

func (s stubAuthn) ValidateToken(token string) (*appctx.UserContext, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return s.user, nil
}

func (s stubAuthn) ResolveActor(_ context.Context, user *appctx.UserContext) (*appctx.UserContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	return user, nil
}

func TestAuth(t *testing.T) {
	user := &appctx.UserContext{UserID: "cb", Roles: []string{"CB"}}
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": appctx.GetUserID(c.Request.Context())})
	}

	tests := []struct {
		name   string
		authn  stubAuthn
		header string
		status int
		code   string
	}{
		{"Missing", stubAuthn{user: user}, "", http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"WrongScheme", stubAuthn{user: user}, "Basic good", http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"InvalidToken", stubAuthn{user: user}, "Bearer bad", http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"InactiveActor", stubAuthn{user: user, err: apperror.NewNotFound("actor profile", "cb")}, "Bearer good", http.StatusNotFound, apperror.CodeNotFound},
		{"OK", stubAuthn{user: user}, "Bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(handler, Auth(tt.authn))
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}
			w, body := serve(t, r, header)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				return
			}
			assert.Equal(t, "cb", body["actor"])
		})
	}
}
