package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type PasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type StatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	SetupRequired bool     `json:"setupRequired"`
	Kind          string   `json:"kind,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
}

type TokenRequest struct {
	Name     string   `json:"name" binding:"required"`
	Scopes   []string `json:"scopes" binding:"required"`
	TTLHours int      `json:"ttlHours"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// The service usually runs on a LAN without TLS, so the cookie is only marked
// secure when the request itself was.
func setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, token, int(sessionTTL.Seconds()), "/", "", c.Request.TLS != nil, true)
}

func clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, "", -1, "/", "", c.Request.TLS != nil, true)
}

func authFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSetupRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "Primero hay que configurar la contraseña de administrador"})
	case errors.Is(err, ErrSetupDone):
		c.JSON(http.StatusConflict, gin.H{"error": "La contraseña de administrador ya está configurada"})
	case errors.Is(err, ErrWrongPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Contraseña incorrecta"})
	case errors.Is(err, ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": "La contraseña es demasiado corta", "details": err.Error()})
	case errors.Is(err, ErrUnknownScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Permiso desconocido", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error interno de autenticación"})
	}
}

func (a *Auth) SetupHandler(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cuerpo de solicitud inválido"})
		return
	}

	token, err := a.Setup(c.Request.Context(), req.Password)
	if err != nil {
		authFailure(c, err)
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Auth) LoginHandler(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cuerpo de solicitud inválido"})
		return
	}

	token, err := a.Login(c.Request.Context(), req.Password)
	if err != nil {
		authFailure(c, err)
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Auth) LogoutHandler(c *gin.Context) {
	clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Auth) StatusHandler(c *gin.Context) {
	required, err := a.SetupRequired(c.Request.Context())
	if err != nil {
		authFailure(c, err)
		return
	}

	resp := StatusResponse{SetupRequired: required}
	if raw := tokenFromRequest(c); raw != "" {
		if claims, err := a.Verify(raw); err == nil {
			resp.Authenticated = true
			resp.Kind = claims.Kind
			resp.Scopes = claims.Scopes
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *Auth) ChangePasswordHandler(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cuerpo de solicitud inválido"})
		return
	}

	token, err := a.ChangePassword(c.Request.Context(), req.CurrentPassword, req.NewPassword)
	if err != nil {
		authFailure(c, err)
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Contraseña actualizada; los tokens emitidos dejaron de ser válidos"})
}

// IssueTokenHandler creates a scoped bearer token for automation.
func (a *Auth) IssueTokenHandler(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cuerpo de solicitud inválido"})
		return
	}

	token, expires, err := a.IssueToken(req.Name, req.Scopes, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		authFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, TokenResponse{Token: token, Name: req.Name, Scopes: req.Scopes, ExpiresAt: expires})
}

// RegisterRoutes mounts the auth endpoints under r.
func (a *Auth) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/setup", a.SetupHandler)
	r.POST("/auth/login", a.LoginHandler)
	r.POST("/auth/logout", a.LogoutHandler)
	r.GET("/auth/status", a.StatusHandler)
	r.POST("/auth/password", a.RequireSession(), a.ChangePasswordHandler)
	r.POST("/auth/tokens", a.RequireSession(), a.IssueTokenHandler)
}
