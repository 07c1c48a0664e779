package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/persistence"
)

type taskCreateRequest struct {
	WorkspaceID string `json:"workspaceId"`
	AgentID     string `json:"agentId"`
	Prompt      string `json:"prompt"`
}

func (s *Server) handleTaskCreate(c *gin.Context) {
	var req taskCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	task, err := s.tasks.Enqueue(c.Request.Context(), req.WorkspaceID, req.AgentID, req.Prompt)
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleTaskList(c *gin.Context) {
	tasks, err := s.tasks.List(c.Request.Context(), c.Query("workspaceId"))
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*persistence.BackgroundTask{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleTaskGet(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleTaskDelete(c *gin.Context) {
	if err := s.tasks.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeTaskError(c *gin.Context, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(cerr.HTTPStatus(err), gin.H{"error": err.Error()})
}
