package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/server/services"
)

func TestAbortWithError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, testLogger())

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"version conflict", common.ErrVersionConflict, http.StatusConflict},
		{"another upload running", common.ErrAnotherUploadRunning, http.StatusConflict},
		{"project still active", common.ErrProjectActive, http.StatusConflict},
		{"corrupted files", &services.CorruptedFilesError{Paths: []string{"a.gpkg"}}, http.StatusUnprocessableEntity},
		{"apply failed", fmt.Errorf("restore: %w", diff.ErrApplyFailed), http.StatusUnprocessableEntity},
		{"storage limit", common.ErrStorageLimit, http.StatusUnprocessableEntity},
		{"empty changes", common.ErrEmptyChanges, http.StatusBadRequest},
		{"inconsistent changes", fmt.Errorf("%w: dup", common.ErrInconsistentChanges), http.StatusBadRequest},
		{"chunk not declared", common.ErrChunkNotDeclared, http.StatusBadRequest},
		{"chunk too large", common.ErrChunkTooLarge, http.StatusRequestEntityTooLarge},
		{"not found", common.ErrorNotFound, http.StatusNotFound},
		{"forbidden", common.ErrorUnauthorized, http.StatusForbidden},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			h.abortWithError(c, tt.err)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestRegister_HealthOpenRestProtected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(nil, nil, testLogger())
	h.Register(r, []byte("secret"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	for _, route := range []string{
		"/v1/projects/p-1",
		"/v1/projects/p-1/versions",
		"/v1/projects/p-1/history/map.gpkg",
		"/v1/projects/p-1/raw/1/map.gpkg",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, route, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, route)
	}
}
