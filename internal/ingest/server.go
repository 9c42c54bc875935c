package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"raptor/internal/audit"
	"raptor/internal/health"
	"raptor/internal/store"
)

// CandidateStore is the slice of the store the ingest surface needs.
type CandidateStore interface {
	InsertCandidate(ctx context.Context, c *store.LaunchCandidate) (*store.LaunchCandidate, bool, error)
}

// CandidatePayload is the normalized discovery event posted by launchpad
// adapters. Chain, source and token_mint identify the event; everything
// else is advisory.
type CandidatePayload struct {
	Chain         string          `json:"chain"`
	Source        string          `json:"source"`
	TokenMint     string          `json:"token_mint"`
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	Score         float64         `json:"score"`
	Deployer      string          `json:"deployer"`
	BondingCurve  string          `json:"bonding_curve"`
	InitialLiqSol float64         `json:"initial_liq_sol"`
	Raw           json.RawMessage `json:"raw"`
}

// EmergencyFunc claims and queues an immediate exit for one position.
type EmergencyFunc func(ctx context.Context, positionID int64) error

// Server runs the HTTP surface: candidate ingest, ops actions, health and
// metrics.
type Server struct {
	app       *fiber.App
	store     CandidateStore
	checker   *health.Checker
	token     string
	host      string
	port      int
	emergency EmergencyFunc
	auditLog  *audit.Log
}

// NewServer creates the ingest server. token guards the candidate
// endpoint; health and metrics stay open.
func NewServer(host string, port int, st CandidateStore, checker *health.Checker, token string) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{
		app:     app,
		store:   st,
		checker: checker,
		token:   token,
		host:    host,
		port:    port,
	}

	s.setupRoutes()
	return s
}

// SetEmergency enables the manual emergency-exit endpoint. auditLog may be
// nil; when present every invocation is recorded.
func (s *Server) SetEmergency(fn EmergencyFunc, auditLog *audit.Log) {
	s.emergency = fn
	s.auditLog = auditLog
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	s.app.Get("/readyz", func(c *fiber.Ctx) error {
		if s.checker == nil || !s.checker.Ready() {
			code := fiber.StatusServiceUnavailable
			if s.checker == nil {
				return c.Status(code).JSON(fiber.Map{"ready": false})
			}
			return c.Status(code).JSON(fiber.Map{
				"ready":  false,
				"probes": s.checker.Statuses(),
			})
		}
		return c.JSON(fiber.Map{
			"ready":  true,
			"probes": s.checker.Statuses(),
		})
	})

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/candidates",
		limiter.New(limiter.Config{
			Max:        20,
			Expiration: time.Second,
		}),
		s.auth,
		s.handleCandidate,
	)

	s.app.Post("/positions/:id/emergency", s.auth, s.handleEmergency)
}

func (s *Server) handleEmergency(c *fiber.Ctx) error {
	if s.emergency == nil {
		return c.Status(503).JSON(fiber.Map{"error": "emergency exits unavailable on this role"})
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid position id"})
	}

	if s.auditLog != nil {
		s.auditLog.Record(audit.EventEmergencyExit, 0, string(store.ChainSolana),
			map[string]int{"position_id": id})
	}

	if err := s.emergency(c.Context(), int64(id)); err != nil {
		log.Error().Err(err).Int("position", id).Msg("emergency exit failed")
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	}

	log.Warn().Int("position", id).Msg("emergency exit queued")
	return c.JSON(fiber.Map{"status": "queued", "position_id": id})
}

func (s *Server) auth(c *fiber.Ctx) error {
	got := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	if s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

func (s *Server) handleCandidate(c *fiber.Ctx) error {
	var payload CandidatePayload
	if err := c.BodyParser(&payload); err != nil {
		log.Error().Err(err).Msg("failed to parse candidate payload")
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}

	if err := validate(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	candidate := &store.LaunchCandidate{
		Chain:         store.Chain(payload.Chain),
		Source:        payload.Source,
		TokenMint:     payload.TokenMint,
		Name:          payload.Name,
		Symbol:        payload.Symbol,
		Score:         payload.Score,
		Deployer:      payload.Deployer,
		BondingCurve:  payload.BondingCurve,
		InitialLiqSol: payload.InitialLiqSol,
		Raw:           payload.Raw,
	}

	saved, inserted, err := s.store.InsertCandidate(c.Context(), candidate)
	if err != nil {
		log.Error().Err(err).Str("mint", payload.TokenMint).Msg("failed to store candidate")
		return c.Status(500).JSON(fiber.Map{"error": "storage error"})
	}

	if !inserted {
		return c.JSON(fiber.Map{
			"status": "duplicate",
			"id":     saved.ID,
		})
	}

	log.Info().
		Str("source", saved.Source).
		Str("mint", saved.TokenMint).
		Str("symbol", saved.Symbol).
		Float64("score", saved.Score).
		Msg("candidate received")

	return c.Status(201).JSON(fiber.Map{
		"status": "created",
		"id":     saved.ID,
	})
}

func validate(p *CandidatePayload) error {
	if store.Chain(p.Chain) != store.ChainSolana {
		return fmt.Errorf("unsupported chain %q", p.Chain)
	}
	if p.Source == "" {
		return fmt.Errorf("source is required")
	}
	if len(p.TokenMint) < 32 || len(p.TokenMint) > 44 {
		return fmt.Errorf("token_mint is not a valid mint address")
	}
	if p.Score < 0 || p.Score > 100 {
		return fmt.Errorf("score must be within [0,100]")
	}
	return nil
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting ingest server")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
