package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wobcom/netbox-sub000/internal/inventory"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// deviceRequest is the write shape of a device.
type deviceRequest struct {
	Name     string  `json:"name" binding:"required"`
	Serial   string  `json:"serial"`
	AssetTag *string `json:"asset_tag"`
	Status   string  `json:"status"`
	Role     string  `json:"role"`
	Platform string  `json:"platform"`
}

// ListDevices handles GET /devices.
func (s *Server) ListDevices(c *gin.Context) {
	devices, err := s.devices.ListDevices(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	dtos := make([]deviceDTO, 0, len(devices))
	for _, d := range devices {
		dtos = append(dtos, toDeviceDTO(d))
	}
	c.JSON(http.StatusOK, gin.H{"devices": dtos})
}

// GetDevice handles GET /devices/:id.
func (s *Server) GetDevice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	obj, found, err := s.devices.Load(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if !found {
		c.Error(apperrors.NotFound(apperrors.CodeDeviceNotFound, "device not found"))
		return
	}
	c.JSON(http.StatusOK, toDeviceDTO(obj.(*inventory.Device)))
}

// CreateDevice handles POST /devices. The write goes through the tracking
// recorder: inside a change session it produces a creation diff.
func (s *Server) CreateDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	d := &inventory.Device{
		Name:     req.Name,
		Serial:   req.Serial,
		AssetTag: req.AssetTag,
		Status:   req.Status,
		Role:     req.Role,
		Platform: req.Platform,
	}
	if d.Status == "" {
		d.Status = "active"
	}

	if err := s.recorder.Save(c.Request.Context(), actorFromCtx(c), d); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			c.Error(apperrors.Conflict(apperrors.CodeDeviceExists, "device name already in use"))
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toDeviceDTO(d))
}

// UpdateDevice handles PUT /devices/:id. Inside a change session the write
// produces one field diff per changed column.
func (s *Server) UpdateDevice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	obj, found, err := s.devices.Load(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if !found {
		c.Error(apperrors.NotFound(apperrors.CodeDeviceNotFound, "device not found"))
		return
	}

	d := obj.(*inventory.Device)
	d.Name = req.Name
	d.Serial = req.Serial
	d.AssetTag = req.AssetTag
	if req.Status != "" {
		d.Status = req.Status
	}
	d.Role = req.Role
	d.Platform = req.Platform

	if err := s.recorder.Save(c.Request.Context(), actorFromCtx(c), d); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			c.Error(apperrors.Conflict(apperrors.CodeDeviceExists, "device name already in use"))
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toDeviceDTO(d))
}
