package handlers

import (
	"fmt"
	"net/http"
	"time"

	"crosscall-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthHandler issues admin JWTs after password + TOTP verification.
type AdminAuthHandler struct {
	jwtSecret  []byte
	totpSecret string
}

// AdminLoginRequest admin login request
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse admin login response
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminJWTClaims admin JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler creates the handler from the admin configuration.
func NewAdminAuthHandler() *AdminAuthHandler {
	admin := config.AppConfig.Admin
	if admin.TOTPSecret == "" || admin.PasswordBcrypt == "" {
		logrus.Warn("⚠️ Admin TOTP secret or password hash not configured, admin login will reject all requests")
	}
	if admin.JWTSecret == "" {
		logrus.Warn("⚠️ Admin JWT secret not configured, admin login will reject all requests")
	}
	return &AdminAuthHandler{
		jwtSecret:  []byte(admin.JWTSecret),
		totpSecret: admin.TOTPSecret,
	}
}

// AdminLoginHandler verifies username, bcrypt password and TOTP code, then
// issues a short-lived JWT. POST /api/v1/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	admin := config.AppConfig.Admin
	if h.totpSecret == "" || admin.PasswordBcrypt == "" || len(h.jwtSecret) == 0 {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Server misconfiguration: admin credentials not set",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	expectedUsername := admin.Username
	if expectedUsername == "" {
		expectedUsername = "admin"
	}

	// One generic message for every credential failure.
	if req.Username != expectedUsername ||
		bcrypt.CompareHashAndPassword([]byte(admin.PasswordBcrypt), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, err := h.generateAdminJWTToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	logrus.WithField("username", req.Username).Info("Admin login successful")
	c.JSON(http.StatusOK, AdminLoginResponse{
		Success: true,
		Token:   token,
		Message: "Login successful",
	})
}

// GenerateTOTPSecretHandler bootstraps a TOTP secret. Refuses once one is
// configured. POST /api/v1/admin/totp/generate
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if h.totpSecret != "" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "TOTP secret already configured",
		})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Crosscall Admin",
		AccountName: "admin@crosscall",
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "Save this secret to the admin totp_secret config before restarting",
	})
}

func (h *AdminAuthHandler) generateAdminJWTToken(username string) (string, error) {
	ttl := time.Duration(config.AppConfig.Admin.TokenTTLMinutes) * time.Minute
	claims := AdminJWTClaims{
		Username: username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "crosscall-backend",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// ValidateAdminJWTToken parses and verifies an admin JWT. Used by the admin
// auth middleware.
func ValidateAdminJWTToken(tokenString string) (*AdminJWTClaims, error) {
	secret := []byte(config.AppConfig.Admin.JWTSecret)
	if len(secret) == 0 {
		return nil, fmt.Errorf("admin JWT secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminJWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
