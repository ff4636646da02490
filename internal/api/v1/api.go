package v1

import (
	"context"
	"errors"
	"fmt"

	"ipwatch/internal/api/response"
	"ipwatch/internal/app"
	"ipwatch/internal/refresh"
	"ipwatch/internal/types"
	"ipwatch/internal/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Service is the agent surface exposed over HTTP
type Service interface {
	State() types.State
	Status() app.Status
	Details(ctx context.Context) app.Details
	Refresh(ctx context.Context) refresh.Outcome
	Enable()
	Disable()
	SetPresence(status types.PresenceStatus)
	SetNetwork(available bool, source string)
	Idle() bool
	Interfaces() []types.InterfaceInfo
	Subscribe(fn func(app.Event)) func()
}

// API represents the API
type API struct {
	service Service
	logger  *zap.Logger
}

// NewAPI creates new API
func NewAPI(svc Service, logger *zap.Logger) *API {
	return &API{
		service: svc,
		logger:  logger,
	}
}

// RegisterRoutes registers API routes
func (api *API) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/state", api.getState)
	r.GET("/details", api.getDetails)
	r.GET("/interfaces", api.getInterfaces)
	r.POST("/refresh", api.refresh)
	r.POST("/enable", api.enable)
	r.POST("/disable", api.disable)
	r.POST("/presence", api.setPresence)
	r.POST("/network", api.setNetwork)
	r.GET("/events", api.streamEvents)

	// Health check
	r.GET("/health", api.healthCheck)
}

// StateView is the state payload
type StateView struct {
	State  types.State `json:"state"`
	Status app.Status  `json:"status"`
	Idle   bool        `json:"idle"`
}

func (api *API) getState(c *gin.Context) {
	response.New(c, api.logger).Success(StateView{
		State:  api.service.State(),
		Status: api.service.Status(),
		Idle:   api.service.Idle(),
	})
}

func (api *API) getDetails(c *gin.Context) {
	response.New(c, api.logger).Success(api.service.Details(c.Request.Context()))
}

func (api *API) getInterfaces(c *gin.Context) {
	ifaces := api.service.Interfaces()
	if ifaces == nil {
		ifaces = []types.InterfaceInfo{}
	}
	response.New(c, api.logger).Success(ifaces)
}

// RefreshResult is the refresh payload
type RefreshResult struct {
	Outcome string      `json:"outcome"`
	State   types.State `json:"state"`
}

func (api *API) refresh(c *gin.Context) {
	resp := response.New(c, api.logger)

	outcome := api.service.Refresh(c.Request.Context())
	if outcome == refresh.Failed {
		resp.BadGateway(errors.New("refresh failed: upstream returned no usable result"))
		return
	}
	resp.Success(RefreshResult{Outcome: outcome.String(), State: api.service.State()})
}

func (api *API) enable(c *gin.Context) {
	api.service.Enable()
	response.New(c, api.logger).Accepted(gin.H{"disabled": api.service.State().Disabled})
}

func (api *API) disable(c *gin.Context) {
	api.service.Disable()
	response.New(c, api.logger).Success(gin.H{"disabled": api.service.State().Disabled})
}

// PresenceRequest reports the session presence
type PresenceRequest struct {
	Status types.PresenceStatus `json:"status" binding:"required,oneof=idle active"`
}

func (api *API) setPresence(c *gin.Context) {
	resp := response.New(c, api.logger)

	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(fmt.Errorf("invalid presence: %w", err))
		return
	}
	api.service.SetPresence(req.Status)
	resp.Accepted(gin.H{"idle": api.service.Idle()})
}

// NetworkRequest reports a reachability transition
type NetworkRequest struct {
	Available *bool  `json:"available" binding:"required"`
	Source    string `json:"source"`
}

func (api *API) setNetwork(c *gin.Context) {
	resp := response.New(c, api.logger)

	var req NetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(fmt.Errorf("invalid network event: %w", err))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	api.service.SetNetwork(*req.Available, req.Source)
	resp.Accepted(gin.H{"available": *req.Available})
}

func (api *API) healthCheck(c *gin.Context) {
	st := api.service.State()
	response.New(c, api.logger).Success(gin.H{
		"status":   "ok",
		"version":  version.GetInfo().Version,
		"idle":     api.service.Idle(),
		"disabled": st.Disabled,
	})
}
