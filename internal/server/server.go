// Package server is the HTTP facade over the sampling engine: request
// validation, error translation, and per-operation timeouts. It owns no
// business logic.
package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"

	"github.com/fabworks/wafersampler/internal/config"
	"github.com/fabworks/wafersampler/pkg/repo"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/strategy/rules"
	"github.com/fabworks/wafersampler/pkg/vendors"
)

// Server bundles the engine pieces the handlers need. Registries are
// frozen in New, before any listener binds.
type Server struct {
	cfg     *config.Config
	store   *repo.Store
	mgr     *repo.Manager
	rules   *strategy.RuleRegistry
	vendors *vendors.Registry
	cache   *strategy.Cache
}

// New assembles the engine over a store: built-in rules and vendor
// emitters registered and frozen, lifecycle manager gated on compilation.
func New(cfg *config.Config, store *repo.Store) *Server {
	ruleReg := strategy.NewRuleRegistry()
	rules.Register(ruleReg)
	ruleReg.Freeze()

	vendorReg := vendors.NewRegistry()
	vendors.RegisterBuiltins(vendorReg)
	vendorReg.Freeze()

	s := &Server{
		cfg:     cfg,
		store:   store,
		rules:   ruleReg,
		vendors: vendorReg,
		cache:   strategy.NewCache(cfg.CacheSize),
	}
	s.mgr = repo.NewManager(store.Strategies, func(def *strategy.Definition) error {
		_, err := strategy.Compile(def, ruleReg, vendorReg.Has)
		return err
	})
	return s
}

// compile resolves a definition through the compiled-strategy cache.
func (s *Server) compile(def *strategy.Definition) (*strategy.Compiled, error) {
	if compiled, ok := s.cache.Get(def.ID, def.Version); ok {
		return compiled, nil
	}
	compiled, err := strategy.Compile(def, s.rules, s.vendors.Has)
	if err != nil {
		return nil, err
	}
	s.cache.Put(compiled)
	return compiled, nil
}

// App builds the fiber application with every route bound.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Wafer Sampler",
		BodyLimit:    int(s.cfg.MaxUploadBytes),
		ErrorHandler: fiberErrorHandler,
	})

	app.Use(recover.New())
	app.Use(requestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowHeaders: []string{"*"},
		AllowMethods: []string{"*"},
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/schematics/upload", s.uploadSchematic)
	app.Get("/schematics", s.listSchematics)
	app.Get("/schematics/:id", s.getSchematic)
	app.Get("/schematics/:id/die-boundaries", s.getDieBoundaries)
	app.Get("/schematics/:id/export/:format", s.exportSchematic)
	app.Post("/schematics/:id/validate", s.validateSchematic)
	app.Delete("/schematics/:id", s.deleteSchematic)

	app.Post("/strategies", s.createStrategy)
	app.Get("/strategies", s.listStrategies)
	app.Get("/strategies/:id", s.getStrategy)
	app.Put("/strategies/:id", s.updateStrategy)
	app.Delete("/strategies/:id", s.deleteStrategy)
	app.Post("/strategies/:id/simulate", s.simulateStrategy)
	app.Post("/strategies/:id/promote", s.promoteStrategy)
	app.Post("/strategies/:id/retract", s.retractStrategy)
	app.Post("/strategies/:id/deprecate", s.deprecateStrategy)
	app.Post("/strategies/:id/clone", s.cloneStrategy)
	app.Post("/strategies/:id/export/:vendor", s.exportStrategy)

	app.Get("/validations", s.listValidations)
	app.Get("/validations/:id", s.getValidation)

	app.Get("/meta/formats", s.getSupportedFormats)
	app.Get("/meta/rule-types", s.getRuleTypes)
	app.Get("/meta/vendors", s.getVendors)

	return app
}

// requestID stamps each request with a uuid echoed in error envelopes.
func requestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("requestID", id)
		c.Set("X-Request-Id", id)
		return c.Next()
	}
}
