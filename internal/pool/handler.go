package pool

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"carbon-ledger/registry-backend/internal/auth"
	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/ledger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	pools := rg.Group("/pools")
	{
		pools.POST("", h.Create)
		pools.GET("/:id", h.Get)
		pools.POST("/:id/deposit", h.Deposit)
		pools.POST("/:id/retire", h.Retire)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidPoolID), errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, credits.ErrNotAuthorised), errors.Is(err, credits.ErrKYCAuthorisationFailed):
		return http.StatusForbidden
	case errors.Is(err, ErrPoolIDInUse):
		return http.StatusConflict
	case errors.Is(err, ErrPoolIDBelowMinimum),
		errors.Is(err, ErrMaxLimitTooHigh),
		errors.Is(err, ErrRegistryNotPermitted),
		errors.Is(err, ErrProjectNotWhitelisted),
		errors.Is(err, ErrIssuanceYear),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrTooManyProjects),
		errors.Is(err, ErrTooManyYears),
		errors.Is(err, ErrSymbolTooLong),
		errors.Is(err, ErrInsufficientPoolCredits):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func caller(c *gin.Context) (ledger.AccountID, bool) {
	account, err := auth.Caller(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	return account, true
}

func poolIDParam(c *gin.Context) (PoolID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool id"})
		return 0, false
	}
	return PoolID(id), true
}

type createPoolRequest struct {
	PoolID      uint64     `json:"pool_id" binding:"required"`
	Config      PoolConfig `json:"config"`
	MaxLimit    *uint32    `json:"max_limit,omitempty"`
	AssetSymbol string     `json:"asset_symbol" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var payload createPoolRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Create(c.Request.Context(), account, PoolID(payload.PoolID), payload.Config, payload.MaxLimit, payload.AssetSymbol); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pool_id": payload.PoolID})
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := poolIDParam(c)
	if !ok {
		return
	}
	pool, err := h.service.GetPool(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

type depositRequest struct {
	ProjectID uint64 `json:"project_id" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
}

func (h *Handler) Deposit(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := poolIDParam(c)
	if !ok {
		return
	}
	var payload depositRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Deposit(c.Request.Context(), account, id, credits.ProjectID(payload.ProjectID), payload.Amount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deposited", "amount": payload.Amount})
}

type retireRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

func (h *Handler) Retire(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := poolIDParam(c)
	if !ok {
		return
	}
	var payload retireRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Retire(c.Request.Context(), account, id, payload.Amount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retired", "amount": payload.Amount})
}
