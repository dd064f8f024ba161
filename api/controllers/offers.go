package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/api/middleware"
	"github.com/angelmondragon/rentflow-backend/api/responses"
	"github.com/angelmondragon/rentflow-backend/api/validators"
	"github.com/angelmondragon/rentflow-backend/internal/assignment"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

type respondRequest struct {
	Decision string `json:"decision" validate:"required,oneof=accept reject"`
	Reason   string `json:"reason" validate:"max=500"`
}

// RespondToOffer records the agent's decision. Tokens bound to an agent may
// only answer that agent's offers.
func RespondToOffer(coord assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		offerID, err := validators.ParseUUIDParam(r, "offerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req respondRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		in := assignment.RespondInput{
			OfferID:  offerID,
			Decision: enums.OfferDecision(req.Decision),
			Reason:   validators.SanitizeString(req.Reason, maxReasonLen),
		}
		if agentID, ok := middleware.AgentIDFromContext(r.Context()); ok {
			in.AgentID = agentID
		}

		offer, err := coord.Respond(r.Context(), in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOfferView(offer))
	}
}

type registerAgentRequest struct {
	AgentID         string          `json:"agent_id" validate:"required,uuid"`
	Available       *bool           `json:"available" validate:"required"`
	ServiceCenter   *pointRequest   `json:"service_center" validate:"required"`
	ServiceRadiusKm float64         `json:"service_radius_km" validate:"gt=0"`
	SuccessRate     decimal.Decimal `json:"success_rate"`
	LastLocation    *pointRequest   `json:"last_location,omitempty"`
}

// RegisterAgent creates or refreshes the ranking data of a delivery agent.
func RegisterAgent(coord assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		var req registerAgentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agentID, err := validators.ParseUUID("agent_id", req.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var last *types.GeographyPoint
		if req.LastLocation != nil {
			p := req.LastLocation.point()
			last = &p
		}

		agent, err := coord.RegisterAgent(r.Context(), assignment.AgentInput{
			ID:              agentID,
			Available:       *req.Available,
			ServiceCenter:   req.ServiceCenter.point(),
			ServiceRadiusKm: req.ServiceRadiusKm,
			SuccessRate:     req.SuccessRate,
			LastLocation:    last,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newAgentView(agent))
	}
}
