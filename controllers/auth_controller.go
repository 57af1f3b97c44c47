package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/config"
	"github.com/travelhub/travelhub/middleware"
	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

// AuthController handles authentication related endpoints including local and third-party providers.
type AuthController struct {
	db *gorm.DB
	// oauthHTTP overrides the client used for provider calls; nil uses the default.
	oauthHTTP *http.Client
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// Register handles local account registration with bcrypt hashing.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)
	if !utils.ValidEmail(email) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid email")
		return
	}
	if !utils.ValidUsername(username) {
		utils.Error(ctx, http.StatusBadRequest, 40003, "username must be 2-32 letters, digits, '-' or '_'")
		return
	}
	if !utils.ValidPassword(req.Password) {
		utils.Error(ctx, http.StatusBadRequest, 40004, "password must be 6-72 characters without spaces")
		return
	}

	var count int64
	if err := a.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to check username")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}
	if err := a.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to check email")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40902, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to hash password")
		return
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		RegisterIP:   ctx.ClientIP(),
	}
	err = a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		profile, err := ensureProfile(tx, &user)
		if err != nil {
			return err
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		// lost a race against a concurrent registration with the same name or email
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Error(ctx, http.StatusConflict, 40901, "username or email already exists")
			return
		}
		utils.Sugar.Errorf("register user failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to create user")
		return
	}

	a.respondWithToken(ctx, user)
}

// Login verifies credentials (email or username) and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Login    string `json:"login" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}

	login := strings.TrimSpace(req.Login)
	q := a.db.Preload("Profile")
	if strings.Contains(login, "@") {
		q = q.Where("email = ?", strings.ToLower(login))
	} else {
		q = q.Where("username = ?", login)
	}
	var user models.User
	if err := q.First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid login or password")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid login or password")
		return
	}
	if user.Profile == nil {
		if p, err := ensureProfile(a.db, &user); err == nil {
			user.Profile = p
		}
	}

	a.respondWithToken(ctx, user)
}

func (a *AuthController) respondWithToken(ctx *gin.Context, user models.User) {
	token, expiresAt, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	ctx.Set(middleware.ContextUserIDKey, user.ID)
	ctx.Set(middleware.ContextUsernameKey, user.Username)
	utils.Success(ctx, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       userPrivateView(user, middleware.IsAdmin(ctx, a.db)),
	})
}

// Logout revokes the presented token until its natural expiry.
func (a *AuthController) Logout(ctx *gin.Context) {
	claims, ok := middleware.CurrentClaims(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "unauthorized")
		return
	}
	expiresAt := time.Now().Add(time.Duration(config.Get().TokenTTLHours) * time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	utils.BlacklistToken(ctx.Request.Context(), claims.ID, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}

	var user models.User
	if err := a.db.Preload("Profile").First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	if user.Profile == nil {
		p, err := ensureProfile(a.db, &user)
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50005, "failed to load profile")
			return
		}
		user.Profile = p
	}
	utils.Success(ctx, userPrivateView(user, middleware.IsAdmin(ctx, a.db)))
}

// OAuthRedirect generates a provider-specific authorization URL.
// return_to, when given, must be a same-site path; the callback redirects there.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	provider := ctx.Param("provider")
	cfg, err := a.oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40006, err.Error())
		return
	}

	returnTo := strings.TrimSpace(ctx.Query("return_to"))
	if !isLocalPath(returnTo) {
		returnTo = ""
	}
	state := uuid.NewString()
	utils.SaveState(ctx.Request.Context(), state, returnTo, 10*time.Minute)

	utils.Success(ctx, gin.H{"authorization_url": cfg.AuthCodeURL(state, oauth2.AccessTypeOnline), "state": state})
}

// OAuthCallback exchanges the authorization code for a user identity and issues a JWT.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := strings.ToLower(ctx.Param("provider"))
	code := ctx.Query("code")
	state := ctx.Query("state")
	if code == "" || state == "" {
		utils.Error(ctx, http.StatusBadRequest, 40007, "missing code or state")
		return
	}

	returnTo, ok := utils.ConsumeState(ctx.Request.Context(), state)
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40008, "invalid or expired state")
		return
	}

	cfg, err := a.oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40006, err.Error())
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()
	if a.oauthHTTP != nil {
		reqCtx = context.WithValue(reqCtx, oauth2.HTTPClient, a.oauthHTTP)
	}
	token, err := cfg.Exchange(reqCtx, code)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40009, "failed to exchange code")
		return
	}

	info, err := fetchOAuthUser(reqCtx, cfg, provider, token)
	if err != nil {
		utils.Sugar.Warnf("oauth user fetch failed provider=%s err=%v", provider, err)
		utils.Error(ctx, http.StatusBadGateway, 50201, "failed to fetch user profile")
		return
	}

	user, err := a.findOrCreateOAuthUser(provider, info)
	if err != nil {
		utils.Sugar.Errorf("oauth user upsert failed provider=%s err=%v", provider, err)
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to sign in")
		return
	}

	if returnTo != "" {
		jwtToken, _, err := utils.GenerateToken(user.ID, user.Username)
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
			return
		}
		ctx.Redirect(http.StatusFound, returnTo+"#token="+url.QueryEscape(jwtToken))
		return
	}
	a.respondWithToken(ctx, *user)
}

func (a *AuthController) oauthConfig(provider string) (*oauth2.Config, error) {
	cfg := config.Get()
	switch strings.ToLower(provider) {
	case "github":
		if cfg.GitHubClientID == "" || cfg.GitHubClientSecret == "" {
			return nil, fmt.Errorf("github oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/github/callback", cfg.OAuthRedirectBase),
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}, nil
	case "google":
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return nil, fmt.Errorf("google oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/google/callback", cfg.OAuthRedirectBase),
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

type oauthUser struct {
	ID        string
	Username  string
	Email     string
	AvatarURL string
}

func fetchOAuthUser(ctx context.Context, cfg *oauth2.Config, provider string, token *oauth2.Token) (*oauthUser, error) {
	client := cfg.Client(ctx, token)
	switch provider {
	case "github":
		var body struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := getJSON(ctx, client, "https://api.github.com/user", &body); err != nil {
			return nil, err
		}
		if body.Email == "" {
			var emails []struct {
				Email    string `json:"email"`
				Primary  bool   `json:"primary"`
				Verified bool   `json:"verified"`
			}
			if err := getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err == nil {
				for _, e := range emails {
					if e.Primary && e.Verified {
						body.Email = e.Email
						break
					}
				}
			}
		}
		return &oauthUser{ID: strconv.FormatInt(body.ID, 10), Username: body.Login, Email: body.Email, AvatarURL: body.AvatarURL}, nil
	case "google":
		var body struct {
			Sub     string `json:"sub"`
			Name    string `json:"name"`
			Email   string `json:"email"`
			Picture string `json:"picture"`
		}
		if err := getJSON(ctx, client, "https://openidconnect.googleapis.com/v1/userinfo", &body); err != nil {
			return nil, err
		}
		name := body.Name
		if at := strings.Index(body.Email, "@"); name == "" && at > 0 {
			name = body.Email[:at]
		}
		return &oauthUser{ID: body.Sub, Username: name, Email: body.Email, AvatarURL: body.Picture}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *AuthController) findOrCreateOAuthUser(provider string, info *oauthUser) (*models.User, error) {
	var user models.User
	err := a.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Preload("Profile").Where("provider = ? AND provider_id = ?", provider, info.ID).First(&user).Error
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			if user.Profile == nil {
				if user.Profile, err = ensureProfile(tx, &user); err != nil {
					return err
				}
			}
			if user.Profile.AvatarURL == "" && info.AvatarURL != "" {
				user.Profile.AvatarURL = info.AvatarURL
				return tx.Model(user.Profile).Update("avatar_url", info.AvatarURL).Error
			}
			return nil
		}

		email := strings.ToLower(strings.TrimSpace(info.Email))
		if email != "" {
			var taken int64
			if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&taken).Error; err != nil {
				return err
			}
			// never merge into an existing local account by email alone
			if taken > 0 {
				email = ""
			}
		}
		user = models.User{
			Username:   ensureUniqueUsername(tx, info.Username, provider, info.ID),
			Email:      email,
			Provider:   provider,
			ProviderID: info.ID,
			RegisterIP: "oauth",
		}
		if email == "" {
			// unique index on email; keep a placeholder that cannot collide
			user.Email = fmt.Sprintf("%s+%s@oauth.invalid", provider, info.ID)
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		profile, err := ensureProfile(tx, &user)
		if err != nil {
			return err
		}
		if info.AvatarURL != "" {
			profile.AvatarURL = info.AvatarURL
			if err := tx.Model(profile).Update("avatar_url", info.AvatarURL).Error; err != nil {
				return err
			}
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func sanitizeUsername(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var builder strings.Builder
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			builder.WriteRune(r)
		case r == '.' || r == ' ':
			builder.WriteRune('_')
		}
	}
	return utils.Truncate(strings.Trim(builder.String(), "_-"), 24)
}

func ensureUniqueUsername(tx *gorm.DB, base, provider, id string) string {
	base = sanitizeUsername(base)
	if len(base) < 2 {
		base = sanitizeUsername(provider + "_" + id)
	}
	candidate := base
	for suffix := 1; ; suffix++ {
		// configured admin names are only claimable through local registration
		if middleware.IsAdminUsername(candidate) {
			candidate = fmt.Sprintf("%s_%d", base, suffix)
			continue
		}
		var count int64
		if err := tx.Model(&models.User{}).Unscoped().Where("username = ?", candidate).Count(&count).Error; err != nil || count == 0 {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", base, suffix)
	}
}

// isLocalPath accepts absolute paths on this site and rejects scheme-relative or absolute URLs.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}
