// internal/middleware/auth_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeplate/homeplate-backend/internal/utils"
)

func newAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.GET("/whoami", AuthRequired(), func(c *gin.Context) {
		userID, _ := utils.GetUserIDFromContext(c)
		role, _ := utils.GetUserRoleFromContext(c)
		payerRef, _ := utils.GetPayerRefFromContext(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":   userID,
			"role":      role,
			"payer_ref": payerRef,
		})
	})
	r.POST("/host-only", AuthRequired(), RoleRequired("host"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return r
}

func doRequest(router *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	utils.SetJWTSecret("auth-middleware-test-secret")
	router := newAuthTestRouter()
	userID := uuid.New()

	t.Run("missing header rejected", func(t *testing.T) {
		w := doRequest(router, "GET", "/whoami", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", "Token abc123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		w := doRequest(router, "GET", "/whoami", "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token, err := utils.GenerateJWT(userID, "guest", "cus_123", -1)
		require.NoError(t, err)
		w := doRequest(router, "GET", "/whoami", token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token populates context", func(t *testing.T) {
		token, err := utils.GenerateJWT(userID, "guest", "cus_123", 1)
		require.NoError(t, err)

		w := doRequest(router, "GET", "/whoami", token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), userID.String())
		assert.Contains(t, w.Body.String(), "cus_123")
	})
}

func TestRoleRequired(t *testing.T) {
	utils.SetJWTSecret("auth-middleware-test-secret")
	router := newAuthTestRouter()

	guestToken, err := utils.GenerateJWT(uuid.New(), "guest", "cus_123", 1)
	require.NoError(t, err)
	hostToken, err := utils.GenerateJWT(uuid.New(), "host", "", 1)
	require.NoError(t, err)

	w := doRequest(router, "POST", "/host-only", guestToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(router, "POST", "/host-only", hostToken)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
