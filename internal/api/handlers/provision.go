package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// Deploy handles POST /provisions: starts a provisioning run over all
// accepted sessions. Returns 202 immediately; the pipeline continues in the
// background. A concurrent run yields 409.
func (s *Server) Deploy(c *gin.Context) {
	ps, err := s.orchestrator.Deploy(c.Request.Context(), actorFromCtx(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, toProvisionSetDTO(ps))
}

// ListProvisions handles GET /provisions.
func (s *Server) ListProvisions(c *gin.Context) {
	sets, err := s.orchestrator.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provision_sets": toProvisionSetDTOs(sets)})
}

// GetProvision handles GET /provisions/:id.
func (s *Server) GetProvision(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ps, err := s.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(provisionError(err))
		return
	}
	c.JSON(http.StatusOK, toProvisionSetDTO(ps))
}

// GetProvisionDiff handles GET /provisions/:id/diff: the worker's rendered
// diff of the prepared run.
func (s *Server) GetProvisionDiff(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	diff, err := s.orchestrator.Diff(c.Request.Context(), id)
	if err != nil {
		c.Error(provisionError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

// TerminateProvision handles POST /provisions/:id/terminate: cooperative
// abort of the running pipeline.
func (s *Server) TerminateProvision(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.orchestrator.Terminate(c.Request.Context(), id); err != nil {
		c.Error(provisionError(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "termination requested"})
}

// ReviewProvision handles POST /provisions/:id/review: manual transition of
// a terminal run into the review state.
func (s *Server) ReviewProvision(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ps, err := s.orchestrator.Review(c.Request.Context(), id)
	if err != nil {
		c.Error(provisionError(err))
		return
	}
	c.JSON(http.StatusOK, toProvisionSetDTO(ps))
}

// RollbackProvision handles POST /provisions/:id/rollback: rolls the managed
// infrastructure back to the state of this run.
func (s *Server) RollbackProvision(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	out, err := s.orchestrator.Rollback(c.Request.Context(), id)
	if err != nil {
		c.Error(provisionError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out})
}

func provisionError(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.NotFound(apperrors.CodeProvisionNotFound, "provision set not found")
	}
	return err
}
