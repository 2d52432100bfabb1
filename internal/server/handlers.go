package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chenpu17/ai-browser/internal/browser"
	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/task"
)

type createSessionRequest struct {
	Headless   *bool  `json:"headless"`
	InitialURL string `json:"initialUrl"`
	UserAgent  string `json:"userAgent"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		failCode(c, aiberrors.CodeInvalidParameter, "malformed request body: "+err.Error())
		return
	}
	headless := true
	if req.Headless != nil {
		headless = *req.Headless
	}

	sess, err := s.manager.Create(c.Request.Context(), browser.CreateOptions{
		Headless:   headless,
		InitialURL: req.InitialURL,
		UserAgent:  req.UserAgent,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId":   sess.ID,
		"headless":    headless,
		"activeTabId": sess.ActiveTabID(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.manager.SessionCount()})
}

func (s *Server) closeSession(c *gin.Context) {
	sessionID := c.Param("id")
	if !s.manager.Close(c.Request.Context(), sessionID) {
		failCode(c, aiberrors.CodeSessionNotFound, "session not found: "+sessionID)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}
	c.JSON(http.StatusOK, gin.H{"closed": sessionID})
}

type submitTaskRequest struct {
	Goal         string         `json:"goal"`
	Inputs       map[string]any `json:"inputs"`
	Constraints  []string       `json:"constraints"`
	OutputSchema map[string]any `json:"outputSchema"`
	Budget       task.Budget    `json:"budget"`
	SessionID    string         `json:"sessionId"`
	Headless     *bool          `json:"headless"`
}

// submitTask starts a run. Without a sessionId the run gets its own session,
// closed when the run ends.
func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failCode(c, aiberrors.CodeInvalidParameter, "malformed request body: "+err.Error())
		return
	}
	if req.Goal == "" {
		failCode(c, aiberrors.CodeInvalidParameter, "goal is required")
		return
	}

	sessionID := req.SessionID
	ownsSession := false
	if sessionID == "" {
		headless := true
		if req.Headless != nil {
			headless = *req.Headless
		}
		sess, err := s.manager.Create(c.Request.Context(), browser.CreateOptions{Headless: headless})
		if err != nil {
			fail(c, err)
			return
		}
		sessionID = sess.ID
		ownsSession = true
		if s.metrics != nil {
			s.metrics.SessionOpened()
		}
	} else if s.manager.Get(sessionID) == nil {
		failCode(c, aiberrors.CodeSessionNotFound, "session not found: "+sessionID)
		return
	}

	spec := task.Spec{
		Goal:         req.Goal,
		Inputs:       req.Inputs,
		Constraints:  req.Constraints,
		OutputSchema: req.OutputSchema,
		Budget:       req.Budget,
	}
	executor := s.runner.Executor(spec, sessionID)
	if ownsSession {
		inner := executor
		executor = func(ctx context.Context, rc task.RunContext) (any, error) {
			defer func() {
				s.manager.Close(context.Background(), sessionID)
				if s.metrics != nil {
					s.metrics.SessionClosed()
				}
			}()
			return inner(ctx, rc)
		}
	}

	run, err := s.runs.Submit(task.SubmitOptions{
		SessionID:   sessionID,
		OwnsSession: ownsSession,
	}, executor)
	if err != nil {
		if ownsSession {
			s.manager.Close(c.Request.Context(), sessionID)
			if s.metrics != nil {
				s.metrics.SessionClosed()
			}
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.runs.List()})
}

func (s *Server) getRun(c *gin.Context) {
	run := s.runs.Get(c.Param("id"))
	if run == nil {
		failCode(c, aiberrors.CodeRunNotFound, "run not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) cancelRun(c *gin.Context) {
	runID := c.Param("id")
	if s.runs.Get(runID) == nil {
		failCode(c, aiberrors.CodeRunNotFound, "run not found: "+runID)
		return
	}
	canceled := s.runs.Cancel(runID)
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

// streamRunEvents replays the run's buffered events, then follows live ones
// until the stream closes or the client disconnects.
func (s *Server) streamRunEvents(c *gin.Context) {
	runID := c.Param("id")
	stream := s.runs.Stream(runID)
	if stream == nil {
		failCode(c, aiberrors.CodeRunNotFound, "run not found: "+runID)
		return
	}

	sub, cancel := stream.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, payload)
			c.Writer.Flush()
		}
	}
}

type resolveInputRequest struct {
	RequestID string            `json:"requestId"`
	Values    map[string]string `json:"values"`
}

// resolveRunInput answers a pending ask_human request of the run's agent.
func (s *Server) resolveRunInput(c *gin.Context) {
	run := s.runs.Get(c.Param("id"))
	if run == nil {
		failCode(c, aiberrors.CodeRunNotFound, "run not found: "+c.Param("id"))
		return
	}

	var req resolveInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failCode(c, aiberrors.CodeInvalidParameter, "malformed request body: "+err.Error())
		return
	}
	if req.RequestID == "" {
		failCode(c, aiberrors.CodeInvalidParameter, "requestId is required")
		return
	}

	loop := s.loopFor(run.SessionID)
	if loop == nil {
		failCode(c, aiberrors.CodeInvalidRequest, "run has no agent waiting for input")
		return
	}
	if !loop.ResolveInput(req.RequestID, req.Values) {
		failCode(c, aiberrors.CodeInvalidRequest, "no pending input request matches "+req.RequestID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// getArtifact serves one chunk of an artifact. offset and limit are bytes;
// chunks are capped at 256 KiB.
func (s *Server) getArtifact(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	artifact, chunk, err := s.runs.Artifacts().Get(c.Param("id"), offset, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("X-Artifact-Size", strconv.Itoa(artifact.Size))
	c.Header("X-Artifact-Offset", strconv.Itoa(offset))
	c.Data(http.StatusOK, artifact.MIMEType, chunk)
}

func (s *Server) listMemoryDomains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"domains": s.memories.ListDomains()})
}

func (s *Server) getMemoryCard(c *gin.Context) {
	domain := c.Param("domain")
	card := s.memories.LoadCard(domain)
	if card == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no knowledge card for " + domain})
		return
	}
	c.JSON(http.StatusOK, card)
}
