package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/repo"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/vendors"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// strategyRequest is the mutable subset of a definition a client may
// send; lifecycle and audit fields are owned by the manager.
type strategyRequest struct {
	Name                 string                     `json:"name"`
	Description          string                     `json:"description,omitempty"`
	StrategyType         strategy.Type              `json:"strategyType"`
	ProcessStep          string                     `json:"processStep,omitempty"`
	ToolType             string                     `json:"toolType,omitempty"`
	Rules                []strategy.RuleConfig      `json:"rules"`
	GlobalConditions     *strategy.ConditionalLogic `json:"globalConditions,omitempty"`
	Transformations      *geometry.Transform        `json:"transformations,omitempty"`
	TargetVendor         string                     `json:"targetVendor,omitempty"`
	VendorSpecificParams map[string]string          `json:"vendorSpecificParams,omitempty"`
	Author               string                     `json:"author,omitempty"`
}

func (s *Server) createStrategy(c fiber.Ctx) error {
	var req strategyRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid json body")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}

	def := &strategy.Definition{
		Name:                 req.Name,
		Description:          req.Description,
		StrategyType:         req.StrategyType,
		ProcessStep:          req.ProcessStep,
		ToolType:             req.ToolType,
		Rules:                req.Rules,
		GlobalConditions:     req.GlobalConditions,
		Transformations:      req.Transformations,
		TargetVendor:         req.TargetVendor,
		VendorSpecificParams: req.VendorSpecificParams,
		Author:               req.Author,
	}
	if _, err := strategy.Compile(def, s.rules, s.vendors.Has); err != nil {
		return respondError(c, err)
	}

	created, err := s.mgr.Create(context.Background(), def)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("strategy %s created: %s v%s", created.ID, created.Name, created.Version)
	return c.Status(http.StatusCreated).JSON(created)
}

func (s *Server) listStrategies(c fiber.Ctx) error {
	list, err := s.store.Strategies.List(context.Background(), repo.StrategyFilter{
		Author:         c.Query("author"),
		StrategyType:   strategy.Type(c.Query("strategyType")),
		ProcessStep:    c.Query("processStep"),
		ToolType:       c.Query("toolType"),
		LifecycleState: strategy.Lifecycle(c.Query("lifecycleState")),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"strategies": list, "count": len(list)})
}

func (s *Server) getStrategy(c fiber.Ctx) error {
	def, err := s.store.Strategies.Get(context.Background(), c.Params("id"), c.Query("version"))
	if err != nil {
		return respondError(c, err)
	}
	versions, err := s.store.Strategies.Versions(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"strategy": def, "versions": versions})
}

func (s *Server) updateStrategy(c fiber.Ctx) error {
	var req strategyRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid json body")
	}

	bump := repo.BumpKind(c.Query("bump", string(repo.BumpPatch)))
	switch bump {
	case repo.BumpPatch, repo.BumpMinor, repo.BumpMajor:
	default:
		return badRequest(c, "bump must be patch, minor, or major")
	}

	updated, err := s.mgr.Update(context.Background(), c.Params("id"), func(d *strategy.Definition) {
		if req.Name != "" {
			d.Name = req.Name
		}
		d.Description = req.Description
		if req.StrategyType != "" {
			d.StrategyType = req.StrategyType
		}
		if req.ProcessStep != "" {
			d.ProcessStep = req.ProcessStep
		}
		if req.ToolType != "" {
			d.ToolType = req.ToolType
		}
		if req.Rules != nil {
			d.Rules = req.Rules
		}
		d.GlobalConditions = req.GlobalConditions
		d.Transformations = req.Transformations
		d.TargetVendor = req.TargetVendor
		d.VendorSpecificParams = req.VendorSpecificParams
	}, bump)
	if err != nil {
		return respondError(c, err)
	}

	if _, err := strategy.Compile(updated, s.rules, s.vendors.Has); err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

func (s *Server) deleteStrategy(c fiber.Ctx) error {
	if err := s.store.Strategies.Delete(context.Background(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) promoteStrategy(c fiber.Ctx) error {
	def, err := s.mgr.Promote(context.Background(), c.Params("id"), c.Query("user"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(def)
}

func (s *Server) retractStrategy(c fiber.Ctx) error {
	def, err := s.mgr.Retract(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(def)
}

func (s *Server) deprecateStrategy(c fiber.Ctx) error {
	def, err := s.mgr.Deprecate(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(def)
}

func (s *Server) cloneStrategy(c fiber.Ctx) error {
	newName := c.Query("newName")
	if newName == "" {
		return badRequest(c, "newName query parameter is required")
	}
	cloned, err := s.mgr.Clone(context.Background(), c.Params("id"), newName, c.Query("author"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(cloned)
}

// dieRequest and waferMapRequest describe the wafer a simulation runs
// against.
type dieRequest struct {
	X         int   `json:"x"`
	Y         int   `json:"y"`
	Available *bool `json:"available,omitempty"`
}

type waferMapRequest struct {
	Dies        []dieRequest `json:"dies"`
	WaferSize   string       `json:"waferSize,omitempty"`
	ProductType string       `json:"productType,omitempty"`
	LotID       string       `json:"lotId,omitempty"`
}

// simulateRequest is the body of POST /strategies/{id}/simulate. The
// embedded ExecContext carries process params, tool constraints, and the
// seed.
type simulateRequest struct {
	WaferMap waferMapRequest `json:"waferMap"`
	strategy.ExecContext
}

// buildWafer converts the request wafer into the engine's model.
func (r *waferMapRequest) buildWafer() (*wafer.Map, error) {
	m := wafer.NewMap()
	for _, d := range r.Dies {
		available := true
		if d.Available != nil {
			available = *d.Available
		}
		if err := m.Add(wafer.Die{X: d.X, Y: d.Y, Available: available}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// simulate loads, compiles, and executes the strategy for both the
// simulate and export endpoints.
func (s *Server) simulate(ctx context.Context, id, version string, req *simulateRequest) (*strategy.Definition, *engine.SimulationResult, error) {
	def, err := s.store.Strategies.Get(ctx, id, version)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := s.compile(def)
	if err != nil {
		return nil, nil, err
	}
	w, err := req.WaferMap.buildWafer()
	if err != nil {
		return nil, nil, err
	}

	ec := req.ExecContext
	if ec.WaferSize == "" {
		ec.WaferSize = req.WaferMap.WaferSize
	}
	if ec.ProductType == "" {
		ec.ProductType = req.WaferMap.ProductType
	}

	result, err := engine.Execute(ctx, compiled, w, ec)
	if err != nil {
		return nil, nil, err
	}
	return def, result, nil
}

func (s *Server) simulateStrategy(c fiber.Ctx) error {
	var req simulateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid json body")
	}
	if len(req.WaferMap.Dies) == 0 {
		return badRequest(c, "waferMap.dies is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SimulateTimeout)
	defer cancel()

	_, result, err := s.simulate(ctx, c.Params("id"), c.Query("version"), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// exportStrategy simulates and hands the result to a vendor emitter.
func (s *Server) exportStrategy(c fiber.Ctx) error {
	var req simulateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid json body")
	}
	if len(req.WaferMap.Dies) == 0 {
		return badRequest(c, "waferMap.dies is required")
	}

	emitter, err := s.vendors.Lookup(c.Params("vendor"))
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SimulateTimeout)
	defer cancel()

	def, result, err := s.simulate(ctx, c.Params("id"), c.Query("version"), &req)
	if err != nil {
		return respondError(c, err)
	}

	out, err := emitter.Emit(result, vendors.Meta{
		StrategyID:   def.ID,
		StrategyName: def.Name,
		Version:      def.Version,
		WaferSize:    req.WaferMap.WaferSize,
		ProductType:  req.WaferMap.ProductType,
		ProcessLayer: req.ProcessLayer,
		VendorParams: def.VendorSpecificParams,
	}, nil)
	if err != nil {
		return respondError(c, err)
	}
	c.Set("Content-Type", emitter.ContentType())
	return c.Send(out)
}

func (s *Server) getSupportedFormats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"formats": []string{"gdsii", "dxf", "svg"}})
}

func (s *Server) getRuleTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"ruleTypes": s.rules.Names()})
}

func (s *Server) getVendors(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"vendors": s.vendors.Names()})
}
