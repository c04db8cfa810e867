package credits

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"carbon-ledger/registry-backend/internal/auth"
	"carbon-ledger/registry-backend/internal/ledger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	projects := rg.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("", h.ListProjects)
		projects.GET("/:id", h.GetProject)
		projects.PUT("/:id", h.UpdateProject)
		projects.POST("/:id/resubmit", h.ResubmitProject)
		projects.POST("/:id/approve", h.ApproveProject)
		projects.POST("/:id/batch-groups", h.AddBatchGroup)
		projects.POST("/:id/mint", h.Mint)
		projects.POST("/:id/retire", h.Retire)
	}

	assets := rg.Group("/assets")
	{
		assets.GET("/:id", h.LookupAsset)
		assets.GET("/:id/retirements/:item", h.GetRetirement)
	}

	admin := rg.Group("/admin")
	{
		admin.GET("/authorized-accounts", h.ListAuthorizedAccounts)
		admin.POST("/authorized-accounts", h.AddAuthorizedAccount)
		admin.DELETE("/authorized-accounts/:account", h.RemoveAuthorizedAccount)
		admin.POST("/projects/:id/approve-and-mint", h.ForceApproveAndMint)
		admin.PUT("/assets/:id/retirements/:item", h.ForceSetRetirement)
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrRetirementNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAuthorised),
		errors.Is(err, ErrKYCAuthorisationFailed):
		return http.StatusForbidden
	case errors.Is(err, ErrProjectIDInUse),
		errors.Is(err, ErrApprovalAlreadyProcessed),
		errors.Is(err, ErrAuthorizedAccountExists),
		errors.Is(err, ErrCannotModifyApprovedProject),
		errors.Is(err, ErrCannotUpdateUnapprovedProject):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidProjectID),
		errors.Is(err, ErrProjectNotApproved),
		errors.Is(err, ErrProjectWithoutCredits),
		errors.Is(err, ErrAmountGreaterThanSupply),
		errors.Is(err, ErrStringTooLong),
		errors.Is(err, ErrTooManyGroups),
		errors.Is(err, ErrTooManyBatches),
		errors.Is(err, ErrTooManyDocuments),
		errors.Is(err, ErrTooManySDGs),
		errors.Is(err, ErrTooManyRegistries),
		errors.Is(err, ErrTooManyRoyaltyRecipients),
		errors.Is(err, ErrTooManyAuthorizedAccounts),
		errors.Is(err, ErrRetirementReasonOutOfBounds),
		errors.Is(err, ErrOverflow):
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

func projectIDParam(c *gin.Context) (ProjectID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return ProjectID(id), true
}

type createProjectRequest struct {
	ProjectID uint64 `json:"project_id" binding:"required"`
	CreateParams
}

func (h *Handler) CreateProject(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var payload createProjectRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.CreateProject(c.Request.Context(), account, ProjectID(payload.ProjectID), payload.CreateParams); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project_id": payload.ProjectID, "status": string(ApprovalPending)})
}

func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.service.ListProjects(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	type entry struct {
		ID      uint64   `json:"project_id"`
		Project *Project `json:"project"`
	}
	out := make([]entry, 0, len(projects))
	for _, p := range projects {
		out = append(out, entry{ID: uint64(p.ID), Project: p.Project})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetProject(c *gin.Context) {
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	project, found := h.service.GetProjectDetails(c.Request.Context(), id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handler) UpdateProject(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var params CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.UpdateProject(c.Request.Context(), account, id, params); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) ResubmitProject(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var params CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.ResubmitProject(c.Request.Context(), account, id, params); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(ApprovalPending)})
}

func (h *Handler) ApproveProject(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var payload struct {
		Approve *bool `json:"approve" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approve is required"})
		return
	}
	if err := h.service.ApproveProject(c.Request.Context(), account, id, *payload.Approve); err != nil {
		respondError(c, err)
		return
	}
	status := ApprovalApproved
	if !*payload.Approve {
		status = ApprovalRejected
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

func (h *Handler) AddBatchGroup(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var group BatchGroup
	if err := c.ShouldBindJSON(&group); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.AddBatchGroup(c.Request.Context(), account, id, group); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "group added"})
}

type mintRequest struct {
	GroupID           uint64 `json:"group_id"`
	Amount            uint64 `json:"amount" binding:"required"`
	ListToMarketplace bool   `json:"list_to_marketplace"`
}

func (h *Handler) Mint(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var payload mintRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Mint(c.Request.Context(), account, id, GroupID(payload.GroupID), payload.Amount, payload.ListToMarketplace); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "minted", "amount": payload.Amount})
}

type retireRequest struct {
	GroupID uint64 `json:"group_id"`
	Amount  uint64 `json:"amount" binding:"required"`
	Reason  string `json:"reason"`
}

func (h *Handler) Retire(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var payload retireRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Retire(c.Request.Context(), account, id, GroupID(payload.GroupID), payload.Amount, payload.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retired", "amount": payload.Amount})
}

func (h *Handler) LookupAsset(c *gin.Context) {
	assetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}
	projectID, groupID, found := h.service.LookupAsset(c.Request.Context(), ledger.AssetID(assetID))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset_id":   assetID,
		"project_id": uint64(projectID),
		"group_id":   uint64(groupID),
	})
}

func (h *Handler) GetRetirement(c *gin.Context) {
	assetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}
	itemID, err := strconv.ParseUint(c.Param("item"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	data, err := h.service.GetRetirement(c.Request.Context(), ledger.AssetID(assetID), ledger.ItemID(itemID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

type forceApproveMintRequest struct {
	Recipient         string `json:"recipient" binding:"required"`
	GroupID           uint64 `json:"group_id"`
	Amount            uint64 `json:"amount" binding:"required"`
	ListToMarketplace bool   `json:"list_to_marketplace"`
}

func (h *Handler) ForceApproveAndMint(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := projectIDParam(c)
	if !ok {
		return
	}
	var payload forceApproveMintRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.service.ForceApproveAndMintCredits(c.Request.Context(), account,
		ledger.AccountID(payload.Recipient), id, GroupID(payload.GroupID),
		payload.Amount, payload.ListToMarketplace)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved and minted", "amount": payload.Amount})
}

func (h *Handler) ForceSetRetirement(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	assetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}
	itemID, err := strconv.ParseUint(c.Param("item"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	var payload RetiredCreditsData
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.ForceSetRetirement(c.Request.Context(), account, ledger.AssetID(assetID), ledger.ItemID(itemID), payload); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retirement set"})
}

func (h *Handler) ListAuthorizedAccounts(c *gin.Context) {
	accounts, err := h.service.ListAuthorizedAccounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *Handler) AddAuthorizedAccount(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var payload struct {
		Account string `json:"account" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account is required"})
		return
	}
	if err := h.service.ForceAddAuthorizedAccount(c.Request.Context(), account, ledger.AccountID(payload.Account)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "authorized"})
}

func (h *Handler) RemoveAuthorizedAccount(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	target := ledger.AccountID(c.Param("account"))
	if err := h.service.ForceRemoveAuthorizedAccount(c.Request.Context(), account, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
