package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/LLL3993/Music-Microservices/internal/db"
)

type MockDeleter struct {
	mock.Mock
}

func (m *MockDeleter) DeleteUser(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeleter) DeleteSong(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func newTestRouter(d *MockDeleter, pingErr error) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(d, pingerFunc(func(context.Context) error { return pingErr }), logger)
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestDeleteEndpoints(t *testing.T) {
	d := new(MockDeleter)
	d.On("DeleteUser", mock.Anything, int64(7)).Return(nil).Once()
	d.On("DeleteUser", mock.Anything, int64(8)).Return(db.ErrNotFound).Once()
	d.On("DeleteSong", mock.Anything, int64(3)).Return(nil).Once()
	d.On("DeleteSong", mock.Anything, int64(4)).Return(errors.New("tx aborted")).Once()
	router := newTestRouter(d, nil)

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/users/7").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/users/8").Code)
	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/meta/3").Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodDelete, "/meta/4").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodDelete, "/users/abc").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodDelete, "/meta/-1").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(router, http.MethodGet, "/users/7").Code)

	d.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	ok := do(newTestRouter(new(MockDeleter), nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `{"status":"ok"}`, ok.Body.String())

	down := do(newTestRouter(new(MockDeleter), errors.New("conn refused")), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, down.Code)
}
