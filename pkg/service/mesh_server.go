package service

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/conceptmesh/mesh-go/pkg/bridge"
	"github.com/conceptmesh/mesh-go/pkg/concept"
	"github.com/conceptmesh/mesh-go/pkg/errors"
	"github.com/conceptmesh/mesh-go/pkg/gateway"
	"github.com/conceptmesh/mesh-go/pkg/metrics"
	"github.com/conceptmesh/mesh-go/pkg/reason"
	"github.com/conceptmesh/mesh-go/pkg/store"
)

/*
MeshServer is the HTTP face of the mesh. Reads go straight to the store
and the reasoning engine; every write funnels through the mutation
gateway. Safe for concurrent use because all of its collaborators are.
*/
type MeshServer struct {
	app     *fiber.App
	store   *store.Store
	gateway *gateway.Gateway
	engine  *reason.Engine
	bridge  *bridge.Bridge
	broker  *bridge.SSEBroker
	metrics *metrics.MeshMetrics
}

/*
NewMeshServer constructs a server over the wired mesh components and
registers all routes. The caller owns starting and stopping it.
*/
func NewMeshServer(
	s *store.Store,
	gw *gateway.Gateway,
	eng *reason.Engine,
	b *bridge.Bridge,
	m *metrics.MeshMetrics,
) *MeshServer {
	srv := &MeshServer{
		app: fiber.New(fiber.Config{
			AppName:           "concept-mesh",
			ServerHeader:      "Mesh-Server",
			StreamRequestBody: true,
		}),
		store:   s,
		gateway: gw,
		engine:  eng,
		bridge:  b,
		broker:  bridge.NewSSEBroker(),
		metrics: m,
	}
	srv.routes()
	return srv
}

func (srv *MeshServer) routes() {
	srv.app.Use(logger.New(logger.Config{
		// Skip logging for the /events endpoint to reduce noise
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/events"
		},
	}), healthcheck.NewHealthChecker())

	srv.app.Get("/", srv.handleRoot)
	srv.app.Post("/propose", srv.handlePropose)
	srv.app.Post("/relate", srv.handleRelate)
	srv.app.Post("/concepts/:id/archive", srv.handleArchive)
	srv.app.Get("/concepts/:id/neighbors", srv.handleNeighbors)
	srv.app.Get("/concepts/:id", srv.handleConcept)
	srv.app.Get("/concepts", srv.handlePhaseQuery)
	srv.app.Post("/paths", srv.handlePaths)
	srv.app.Get("/snapshot", srv.handleSnapshot)
	srv.app.Get("/spectral", srv.handleSpectral)
	srv.app.Get("/events", srv.handleEvents)
	srv.app.Get("/metrics", srv.handleMetrics)
}

/*
Start forwards bridge events onto the SSE broker and serves until the
listener fails or Shutdown runs.
*/
func (srv *MeshServer) Start(addr string) error {
	go srv.broker.Forward(srv.bridge.Subscribe())
	log.Info("mesh server listening", "addr", addr)
	return srv.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown closes the SSE broker and drains in-flight requests.
func (srv *MeshServer) Shutdown() error {
	srv.broker.Close()
	return srv.app.Shutdown()
}

// App exposes the underlying fiber app for in-process testing.
func (srv *MeshServer) App() *fiber.App { return srv.app }

func (srv *MeshServer) handleRoot(ctx fiber.Ctx) error {
	return ctx.SendString("OK")
}

func (srv *MeshServer) handlePropose(ctx fiber.Ctx) error {
	var p concept.Proposal
	if err := ctx.Bind().Body(&p); err != nil {
		return fail(ctx, errors.ErrValidation.WithMessagef("malformed proposal body: %v", err))
	}

	receipt, err := srv.gateway.Propose(ctx.Context(), p)
	if err != nil {
		return fail(ctx, err)
	}

	status := fiber.StatusOK
	if receipt.Status == gateway.StatusCreated {
		status = fiber.StatusCreated
	}
	return ctx.Status(status).JSON(receipt)
}

type relateRequest struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
}

func (srv *MeshServer) handleRelate(ctx fiber.Ctx) error {
	var req relateRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fail(ctx, errors.ErrValidation.WithMessagef("malformed relate body: %v", err))
	}

	receipt, err := srv.gateway.Relate(ctx.Context(), req.From, req.To, req.Relation, req.Weight)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.JSON(receipt)
}

func (srv *MeshServer) handleArchive(ctx fiber.Ctx) error {
	receipt, err := srv.gateway.ArchiveConcept(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.JSON(receipt)
}

func (srv *MeshServer) handleConcept(ctx fiber.Ctx) error {
	c, ok := srv.store.Get(ctx.Params("id"))
	if !ok {
		return fail(ctx, errors.ErrConceptNotFound.WithMessagef("concept %s not found", ctx.Params("id")))
	}
	return ctx.JSON(c)
}

func (srv *MeshServer) handleNeighbors(ctx fiber.Ctx) error {
	id := ctx.Params("id")
	if _, ok := srv.store.Get(id); !ok {
		return fail(ctx, errors.ErrConceptNotFound.WithMessagef("concept %s not found", id))
	}
	return ctx.JSON(srv.store.Neighbors(id))
}

func (srv *MeshServer) handlePhaseQuery(ctx fiber.Ctx) error {
	phase, err := strconv.ParseFloat(ctx.Query("phase"), 64)
	if err != nil {
		return fail(ctx, errors.ErrValidation.WithMessagef("phase must be a number: %v", err))
	}
	radius, err := strconv.ParseFloat(ctx.Query("radius", "0.5"), 64)
	if err != nil {
		return fail(ctx, errors.ErrValidation.WithMessagef("radius must be a number: %v", err))
	}
	return ctx.JSON(srv.store.QueryByPhase(phase, radius))
}

type pathsRequest struct {
	Start   string `json:"start"`
	Target  string `json:"target,omitempty"`
	MaxHops int    `json:"max_hops,omitempty"`
}

func (srv *MeshServer) handlePaths(ctx fiber.Ctx) error {
	var req pathsRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fail(ctx, errors.ErrValidation.WithMessagef("malformed paths body: %v", err))
	}
	if req.Start == "" {
		return fail(ctx, errors.ErrValidation.WithMessagef("start is required"))
	}

	res, err := srv.engine.BuildPaths(ctx.Context(), req.Start, req.Target, req.MaxHops)
	if err != nil {
		return fail(ctx, err)
	}
	// NoPath is a valid result, not an error status
	return ctx.JSON(res)
}

// handleSnapshot exports the store's versioned deep-copy snapshot, the
// same state an operator would get from an offline replay.
func (srv *MeshServer) handleSnapshot(ctx fiber.Ctx) error {
	return ctx.JSON(srv.store.Snapshot())
}

// handleSpectral reports the latest spectral state published through the
// bridge, if a monitor cycle has run yet.
func (srv *MeshServer) handleSpectral(ctx fiber.Ctx) error {
	snap, ok := srv.bridge.Latest()
	if !ok {
		return ctx.Status(fiber.StatusNoContent).Send(nil)
	}
	return ctx.JSON(snap)
}

func (srv *MeshServer) handleEvents(ctx fiber.Ctx) error {
	handler := func(w http.ResponseWriter, r *http.Request) {
		srv.broker.Subscribe(w, r)
	}
	return fiberadaptor.HTTPHandler(http.HandlerFunc(handler))(ctx)
}

func (srv *MeshServer) handleMetrics(ctx fiber.Ctx) error {
	return ctx.JSON(srv.metrics.GetMetrics())
}

/*
fail maps a mesh error onto an HTTP status and a JSON body carrying the
project error code. Lock timeouts advertise a retry, matching the
gateway's retryable contract.
*/
func fail(ctx fiber.Ctx, err error) error {
	me, ok := err.(*errors.MeshError)
	if !ok {
		me = errors.ErrInternal.WithMessagef("%v", err)
	}

	status := fiber.StatusInternalServerError
	switch me.Code {
	case errors.ErrValidation.Code:
		status = fiber.StatusUnprocessableEntity
	case errors.ErrConflict.Code:
		status = fiber.StatusConflict
	case errors.ErrLockTimeout.Code:
		status = fiber.StatusServiceUnavailable
		ctx.Set("Retry-After", "1")
	case errors.ErrConceptNotFound.Code:
		status = fiber.StatusNotFound
	}

	if status == fiber.StatusInternalServerError {
		log.Error("request failed", "code", me.Code, "error", me.Message)
	}
	return ctx.Status(status).JSON(me)
}
