// Package server is the HTTP surface of the platform. Handlers are thin:
// they translate requests into calls on the browser manager, the run
// manager, and the memory store, and stream run events over SSE.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/chenpu17/ai-browser/internal/agent"
	"github.com/chenpu17/ai-browser/internal/browser"
	"github.com/chenpu17/ai-browser/internal/config"
	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/events"
	"github.com/chenpu17/ai-browser/internal/llm"
	"github.com/chenpu17/ai-browser/internal/logging"
	"github.com/chenpu17/ai-browser/internal/memory"
	"github.com/chenpu17/ai-browser/internal/observability"
	"github.com/chenpu17/ai-browser/internal/task"
	"github.com/chenpu17/ai-browser/internal/tools"
)

// Server wires the HTTP layer to the platform's collaborators.
type Server struct {
	cfg      *config.Config
	manager  *browser.Manager
	runs     *task.RunManager
	runner   *task.Runner
	memories *memory.CardStore
	metrics  *observability.Metrics
	client   llm.Client
	bus      *tools.Bus
	logger   logging.Logger

	mu    sync.Mutex
	loops map[string]*agent.Loop
}

// Options bundle the collaborators the server needs.
type Options struct {
	Config   *config.Config
	Manager  *browser.Manager
	Runs     *task.RunManager
	Runner   *task.Runner
	Memories *memory.CardStore
	Metrics  *observability.Metrics
	Client   llm.Client
	Bus      *tools.Bus
	Logger   logging.Logger
}

func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		manager:  opts.Manager,
		runs:     opts.Runs,
		runner:   opts.Runner,
		memories: opts.Memories,
		metrics:  opts.Metrics,
		client:   opts.Client,
		bus:      opts.Bus,
		logger:   logging.OrNop(opts.Logger),
		loops:    make(map[string]*agent.Loop),
	}
	if s.metrics != nil {
		s.runs.SetFinishHook(func(status task.Status, elapsed time.Duration) {
			s.metrics.RunFinished(string(status), elapsed)
		})
	}
	return s
}

// SetRunner installs the task runner. The runner is built after the server
// because the server itself is its goal runner.
func (s *Server) SetRunner(runner *task.Runner) { s.runner = runner }

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.Server.AllowOrigins) == 1 && s.cfg.Server.AllowOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.Server.AllowOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.DELETE("/sessions/:id", s.closeSession)

		api.POST("/tasks", s.submitTask)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/runs/:id/events", s.streamRunEvents)
		api.POST("/runs/:id/cancel", s.cancelRun)
		api.POST("/runs/:id/input", s.resolveRunInput)

		api.GET("/artifacts/:id", s.getArtifact)

		api.GET("/memory/domains", s.listMemoryDomains)
		api.GET("/memory/domains/:domain", s.getMemoryCard)
	}
	return router
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening on %s", s.cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// httpStatus maps error codes to HTTP statuses.
func httpStatus(code aiberrors.Code) int {
	switch code {
	case aiberrors.CodeInvalidParameter, aiberrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case aiberrors.CodeSessionNotFound, aiberrors.CodeTabNotFound, aiberrors.CodeRunNotFound,
		aiberrors.CodeArtifactNotFound, aiberrors.CodeTemplateNotFound, aiberrors.CodeElementNotFound:
		return http.StatusNotFound
	case aiberrors.CodeTooManyRuns:
		return http.StatusTooManyRequests
	case aiberrors.CodeTrustLevelNotAllowed:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	code := aiberrors.CodeOf(err)
	c.JSON(httpStatus(code), gin.H{
		"error": gin.H{"code": string(code), "message": err.Error()},
	})
}

func failCode(c *gin.Context, code aiberrors.Code, message string) {
	fail(c, aiberrors.New(code, message))
}

// registerLoop tracks the active agent loop of a session so human input can
// be routed to it.
func (s *Server) registerLoop(sessionID string, loop *agent.Loop) {
	s.mu.Lock()
	s.loops[sessionID] = loop
	s.mu.Unlock()
}

func (s *Server) unregisterLoop(sessionID string) {
	s.mu.Lock()
	delete(s.loops, sessionID)
	s.mu.Unlock()
}

func (s *Server) loopFor(sessionID string) *agent.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops[sessionID]
}

// RunGoal satisfies task.GoalRunner: each goal gets a fresh agent loop bound
// to the run's session. The loop writes to its own stream; everything except
// its terminal done event is forwarded to the run's stream, which stays open
// until the run manager closes it.
func (s *Server) RunGoal(ctx context.Context, sessionID, goal string, stream *events.Stream) (string, bool, error) {
	loopStream := events.NewStream()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		sub, cancel := loopStream.Subscribe()
		defer cancel()
		for event := range sub {
			if event.Type == events.TypeDone {
				continue
			}
			if stream != nil {
				stream.Publish(event)
			}
		}
	}()

	loop := agent.NewLoop(agent.Options{
		Config: agent.Config{
			MaxIterations:        s.cfg.Agent.MaxIterations,
			MaxConsecutiveErrors: s.cfg.Agent.MaxConsecutive,
			HardTimeout:          s.cfg.Agent.HardTimeout,
			AskHumanTimeout:      s.cfg.Agent.AskHumanTimeout,
			ResultCharBudget:     s.cfg.Agent.ResultCharBudget,
		},
		Client:    s.client,
		Bus:       s.bus,
		Manager:   s.manager,
		Memory:    s.memories,
		Stream:    loopStream,
		Logger:    s.logger,
		SessionID: sessionID,
	})
	s.registerLoop(sessionID, loop)
	defer s.unregisterLoop(sessionID)

	result, err := loop.Run(ctx, goal)
	if err != nil {
		// Run refused to start, so no done event will close the loop stream.
		loopStream.Publish(events.Event{Type: events.TypeDone})
		<-forwarded
		return "", false, err
	}
	<-forwarded
	if result.Success {
		return result.Result, true, nil
	}
	if result.Error != "" {
		return result.Error, false, nil
	}
	return result.Result, false, nil
}
