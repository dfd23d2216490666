package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/praxis/internal/observability/logger"
	"github.com/smallbiznis/praxis/internal/plan"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"go.uber.org/zap"
)

type subscriptionView struct {
	ID                     string     `json:"id"`
	Provider               string     `json:"provider"`
	ExternalSubscriptionID string     `json:"external_subscription_id"`
	Status                 string     `json:"status"`
	Plan                   string     `json:"plan"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type mySubscriptionResponse struct {
	ProfessionalID string            `json:"professional_id"`
	Plan           string            `json:"plan"`
	Status         *string           `json:"status"`
	Subscription   *subscriptionView `json:"subscription"`
}

// GetMySubscription returns the caller's newest subscription. Without one the
// professional row's plan and status answer, and a missing row means free.
func (s *Server) GetMySubscription(c *gin.Context) {
	professionalID := c.GetString(contextProfessionalIDKey)
	if professionalID == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.GetByProfessionalID(c.Request.Context(), professionalID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.respondWithoutSubscription(c, professionalID)
			return
		}
		AbortWithError(c, err)
		return
	}

	status := string(sub.Status)
	c.JSON(http.StatusOK, mySubscriptionResponse{
		ProfessionalID: professionalID,
		Plan:           string(sub.Plan),
		Status:         &status,
		Subscription: &subscriptionView{
			ID:                     sub.ID.String(),
			Provider:               sub.Provider,
			ExternalSubscriptionID: sub.ExternalSubscriptionID,
			Status:                 status,
			Plan:                   string(sub.Plan),
			CurrentPeriodEnd:       sub.CurrentPeriodEnd,
			UpdatedAt:              sub.UpdatedAt,
		},
	})
}

func (s *Server) respondWithoutSubscription(c *gin.Context, professionalID string) {
	ctx := c.Request.Context()
	resp := mySubscriptionResponse{
		ProfessionalID: professionalID,
		Plan:           string(plan.Free),
	}

	professional, err := s.subscriptionSvc.GetProfessional(ctx, professionalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if professional != nil {
		if professional.Plan.Paid() {
			resp.Plan = string(professional.Plan)
			logger.FromContext(ctx).Info("paid plan without subscription",
				zap.String("professional_id", professionalID),
				zap.String("plan", professional.Plan.String()),
			)
		}
		resp.Status = professional.SubscriptionStatus
	}

	c.JSON(http.StatusOK, resp)
}
