package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"carbon-ledger/registry-backend/internal/ledger"
)

const callerKey = "auth.caller"

var ErrNoCaller = errors.New("auth: no caller account in request context")

// Claims carries the ledger account the token was issued for.
type Claims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens for ledger accounts.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

func (i *Issuer) IssueToken(account ledger.AccountID) (string, error) {
	now := time.Now()
	claims := Claims{
		Account: string(account),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Account == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware extracts the caller account from the Authorization header and
// stores it in the gin context for handlers.
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := i.parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(callerKey, ledger.AccountID(claims.Account))
		c.Next()
	}
}

// Caller returns the account the middleware authenticated.
func Caller(c *gin.Context) (ledger.AccountID, error) {
	v, ok := c.Get(callerKey)
	if !ok {
		return "", ErrNoCaller
	}
	account, ok := v.(ledger.AccountID)
	if !ok {
		return "", ErrNoCaller
	}
	return account, nil
}

// Handler exposes the token endpoint for local runs and integration tests.
type Handler struct {
	issuer *Issuer
}

func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/token", h.Token)
	}
}

func (h *Handler) Token(c *gin.Context) {
	var payload struct {
		Account string `json:"account" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account is required"})
		return
	}
	token, err := h.issuer.IssueToken(ledger.AccountID(payload.Account))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
