package routes

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelhub/travelhub/models"
)

type meView struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	Profile  struct {
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	} `json:"profile"`
}

func TestRegisterCreatesUserAndProfile(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	var me meView
	decode(t, app.do(http.MethodGet, "/api/v1/auth/me", nil, s.Token), http.StatusOK, &me)
	assert.Equal(t, s.ID, me.ID)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.Equal(t, "alice", me.Profile.DisplayName)
	assert.Equal(t, models.RoleUser, me.Profile.Role)
	assert.False(t, me.IsAdmin)

	var profiles int64
	require.NoError(t, app.db.Model(&models.Profile{}).Where("user_id = ?", s.ID).Count(&profiles).Error)
	assert.EqualValues(t, 1, profiles)
}

func TestRegisterValidation(t *testing.T) {
	app := newTestApp(t)
	app.register("alice")

	cases := []struct {
		name   string
		body   gin.H
		status int
		code   int
	}{
		{"bad email", gin.H{"email": "nope", "username": "bob", "password": "secret123"}, http.StatusBadRequest, 40002},
		{"short username", gin.H{"email": "b@example.com", "username": "b", "password": "secret123"}, http.StatusBadRequest, 40003},
		{"space in password", gin.H{"email": "b@example.com", "username": "bob", "password": "sec ret123"}, http.StatusBadRequest, 40004},
		{"duplicate username", gin.H{"email": "other@example.com", "username": "alice", "password": "secret123"}, http.StatusConflict, 40901},
		{"duplicate email", gin.H{"email": "ALICE@example.com", "username": "alice2", "password": "secret123"}, http.StatusConflict, 40902},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := decode(t, app.do(http.MethodPost, "/api/v1/auth/register", tc.body, ""), tc.status, nil)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestLoginByUsernameOrEmail(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	for _, login := range []string{"alice", "Alice@Example.com"} {
		var out struct {
			Token string `json:"token"`
			User  meView `json:"user"`
		}
		decode(t, app.do(http.MethodPost, "/api/v1/auth/login", gin.H{"login": login, "password": "secret123"}, ""), http.StatusOK, &out)
		assert.NotEmpty(t, out.Token)
		assert.Equal(t, s.ID, out.User.ID)
	}

	env := decode(t, app.do(http.MethodPost, "/api/v1/auth/login", gin.H{"login": "alice", "password": "wrong-pass"}, ""), http.StatusUnauthorized, nil)
	assert.Equal(t, 40106, env.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	decode(t, app.do(http.MethodPost, "/api/v1/auth/logout", nil, s.Token), http.StatusOK, nil)

	env := decode(t, app.do(http.MethodGet, "/api/v1/auth/me", nil, s.Token), http.StatusUnauthorized, nil)
	assert.Equal(t, 40104, env.Code)
}

func TestMeRequiresToken(t *testing.T) {
	app := newTestApp(t)

	env := decode(t, app.do(http.MethodGet, "/api/v1/auth/me", nil, ""), http.StatusUnauthorized, nil)
	assert.Equal(t, 40101, env.Code)

	env = decode(t, app.do(http.MethodGet, "/api/v1/auth/me", nil, "garbage"), http.StatusUnauthorized, nil)
	assert.Equal(t, 40105, env.Code)
}

func TestConfiguredAdminUsername(t *testing.T) {
	app := newTestApp(t)
	root := app.register("root")

	var me meView
	decode(t, app.do(http.MethodGet, "/api/v1/auth/me", nil, root.Token), http.StatusOK, &me)
	assert.True(t, me.IsAdmin)
}

func TestOAuthLoginRequiresConfiguredProvider(t *testing.T) {
	app := newTestApp(t)

	env := decode(t, app.do(http.MethodGet, "/api/v1/auth/oauth/github/login", nil, ""), http.StatusBadRequest, nil)
	assert.Equal(t, 40006, env.Code)

	env = decode(t, app.do(http.MethodGet, "/api/v1/auth/oauth/github/callback?code=x&state=unknown", nil, ""), http.StatusBadRequest, nil)
	assert.Equal(t, 40008, env.Code)
}
