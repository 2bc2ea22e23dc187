package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// affectedCustomerRequest is one impacted customer in the toggle request.
type affectedCustomerRequest struct {
	Name             string `json:"name" binding:"required"`
	IsBusiness       bool   `json:"is_business"`
	ProductsAffected string `json:"products_affected"`
}

// toggleChangeRequest carries the change information submitted when opening
// a session. Ignored when the request closes an already-open session.
type toggleChangeRequest struct {
	IsEmergency        bool                      `json:"is_emergency"`
	IsExtensive        bool                      `json:"is_extensive"`
	AffectsCustomer    bool                      `json:"affects_customer"`
	ChangeImplications string                    `json:"change_implications"`
	IgnoreImplications string                    `json:"ignore_implications"`
	AffectedCustomers  []affectedCustomerRequest `json:"affected_customers"`
}

// ToggleChange handles POST /changes: opens a draft session when the user
// has none, closes the active one otherwise.
func (s *Server) ToggleChange(c *gin.Context) {
	var req toggleChangeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
			return
		}
	}

	info := &domain.ChangeInformation{
		IsEmergency:        req.IsEmergency,
		IsExtensive:        req.IsExtensive,
		AffectsCustomer:    req.AffectsCustomer,
		ChangeImplications: req.ChangeImplications,
		IgnoreImplications: req.IgnoreImplications,
	}
	for _, ac := range req.AffectedCustomers {
		info.AffectedCustomers = append(info.AffectedCustomers, domain.AffectedCustomer{
			Name:             ac.Name,
			IsBusiness:       ac.IsBusiness,
			ProductsAffected: ac.ProductsAffected,
		})
	}

	cs, opened, err := s.sessions.Toggle(c.Request.Context(), actorFromCtx(c), info)
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusOK
	if opened {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"change_set": toChangeSetDTO(cs),
		"active":     opened,
	})
}

// EndChange handles POST /changes/end: accepts the user's active session
// for deployment.
func (s *Server) EndChange(c *gin.Context) {
	cs, err := s.sessions.End(c.Request.Context(), actorFromCtx(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toChangeSetDTO(cs))
}

// ListChanges handles GET /changes.
func (s *Server) ListChanges(c *gin.Context) {
	sets, err := s.sessions.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"change_sets": toChangeSetDTOs(sets)})
}

// GetChange handles GET /changes/:id, including the executive summary.
func (s *Server) GetChange(c *gin.Context) {
	cs, ok := s.changeFromPath(c)
	if !ok {
		return
	}

	summary, err := s.sessions.Summary(c.Request.Context(), cs, false)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"change_set": toChangeSetDTO(cs),
		"summary":    summary,
	})
}

// GetChangeYAML handles GET /changes/:id/yaml: the recorded diffs as a YAML
// document.
func (s *Server) GetChangeYAML(c *gin.Context) {
	cs, ok := s.changeFromPath(c)
	if !ok {
		return
	}

	doc, err := s.sessions.ToYAML(c.Request.Context(), cs)
	if err != nil {
		c.Error(err)
		return
	}
	c.Data(http.StatusOK, "application/yaml", []byte(doc))
}

// RejectChange handles POST /changes/:id/reject (operator review).
func (s *Server) RejectChange(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	cs, err := s.sessions.Reject(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toChangeSetDTO(cs))
}

func (s *Server) changeFromPath(c *gin.Context) (*domain.ChangeSet, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}

	cs, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.Error(apperrors.NotFound(apperrors.CodeChangeNotFound, "change set not found"))
		} else {
			c.Error(err)
		}
		return nil, false
	}
	return cs, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid id"))
		return 0, false
	}
	return id, true
}
