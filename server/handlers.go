package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"codeintel.dev/adrmanager"
	"codeintel.dev/codeerr"
	"codeintel.dev/knowledgebase"
)

const maxSearchLimit = 100

type analyzeCodeRequest struct {
	Code    string `json:"code"`
	Context string `json:"context"`
}

func (s *Server) handleAnalyzeCode(c echo.Context) error {
	var req analyzeCodeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return codeerr.New(codeerr.ValidationFailed, "code is required")
	}
	taskID, err := s.reg.Tasks.Submit(c.Request().Context(), "analyze-code", map[string]interface{}{
		"code": req.Code, "context": req.Context,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": taskID})
}

type createADRRequest struct {
	Title    string   `json:"title"`
	Decision string   `json:"decision"`
	Context  string   `json:"context"`
	Options  []string `json:"options"`
}

func (s *Server) handleCreateADR(c echo.Context) error {
	var req createADRRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Title == "" || req.Decision == "" {
		return codeerr.New(codeerr.ValidationFailed, "title and decision are required")
	}
	a, err := s.reg.ADRs.Create(c.Request().Context(), req.Title, req.Decision, req.Context, req.Options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

type debugIssueRequest struct {
	Description string `json:"description"`
	Context     string `json:"context"`
}

func (s *Server) handleDebugIssue(c echo.Context) error {
	var req debugIssueRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Description == "" {
		return codeerr.New(codeerr.ValidationFailed, "description is required")
	}
	taskID, err := s.reg.Tasks.Submit(c.Request().Context(), "debug-issue", map[string]interface{}{
		"description": req.Description, "context": req.Context,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": taskID})
}

type crawlDocsRequest struct {
	URLs       []string `json:"urls"`
	SourceType string   `json:"source_type"`
}

func (s *Server) handleCrawlDocs(c echo.Context) error {
	var req crawlDocsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.URLs) == 0 {
		return codeerr.New(codeerr.ValidationFailed, "urls must be a non-empty array")
	}
	urls := make([]interface{}, len(req.URLs))
	for i, u := range req.URLs {
		urls[i] = u
	}
	taskID, err := s.reg.Tasks.Submit(c.Request().Context(), "crawl-docs", map[string]interface{}{
		"urls": urls, "source_type": req.SourceType,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": taskID})
}

type searchKnowledgeRequest struct {
	Query string `json:"query"`
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearchKnowledge(c echo.Context) error {
	var req searchKnowledgeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Query == "" {
		return codeerr.New(codeerr.ValidationFailed, "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > maxSearchLimit {
		return codeerr.New(codeerr.ValidationFailed, "limit exceeds maximum of 100")
	}

	var filter *knowledgebase.Filter
	if req.Kind != "" {
		filter = &knowledgebase.Filter{KindIn: []knowledgebase.Kind{knowledgebase.Kind(req.Kind)}}
	}

	results, err := s.reg.KnowledgeBase.Search(c.Request().Context(), req.Query, limit, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleGetTask(c echo.Context) error {
	task, ok := s.reg.Tasks.Get(c.Param("id"))
	if !ok {
		return codeerr.New(codeerr.NotFound, "task not found")
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleListADRs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.ADRs.List())
}

func (s *Server) handleGetADR(c echo.Context) error {
	a, err := s.reg.ADRs.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type transitionADRRequest struct {
	Status       string `json:"status"`
	SupersededBy string `json:"supersededBy"`
}

func (s *Server) handleTransitionADR(c echo.Context) error {
	var req transitionADRRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Status == "" {
		return codeerr.New(codeerr.ValidationFailed, "status is required")
	}
	a, err := s.reg.ADRs.Transition(c.Request().Context(), c.Param("id"), adrmanager.Status(req.Status), req.SupersededBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.mon.Snapshot()
	status := http.StatusOK
	if snap.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, snap)
}
