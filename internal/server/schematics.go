package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/fabworks/wafersampler/pkg/repo"
	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/schematic/emit"
	"github.com/fabworks/wafersampler/pkg/schematic/ingest"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// uploadSchematic ingests a layout file from multipart form data. Parse
// hints arrive as query parameters.
func (s *Server) uploadSchematic(c fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return writeError(c, http.StatusBadRequest, errorBody{
			Code:    codeFileUploadError,
			Message: "file required in multipart/form-data",
		})
	}
	if file.Size > s.cfg.MaxUploadBytes {
		return writeError(c, http.StatusRequestEntityTooLarge, errorBody{
			Code:    codePayloadTooLarge,
			Message: fmt.Sprintf("file exceeds the %d MiB upload limit", s.cfg.MaxUploadBytes>>20),
			Details: map[string]any{"limitBytes": s.cfg.MaxUploadBytes, "sizeBytes": file.Size},
		})
	}

	f, err := file.Open()
	if err != nil {
		return respondError(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return respondError(c, err)
	}

	opts := schematic.ParseOptions{
		TargetCell:  c.Query("targetCell"),
		TargetLayer: c.Query("targetLayer"),
	}
	opts.CoordinateScale = queryFloat(c, "coordinateScale")
	opts.DieSizeFilterMin = queryFloat(c, "dieSizeFilterMin")
	opts.DieSizeFilterMax = queryFloat(c, "dieSizeFilterMax")

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if _, err := ingest.Detect(file.Filename, head); err != nil {
		return writeError(c, http.StatusBadRequest, errorBody{Code: codeParserError, Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ParseTimeout)
	defer cancel()

	parsed, err := ingest.Parse(ctx, file.Filename, data, opts)
	if err != nil {
		return respondError(c, err)
	}
	if len(parsed.Dies) > s.cfg.MaxDies {
		return writeError(c, http.StatusRequestEntityTooLarge, errorBody{
			Code:    codeTooManyDies,
			Message: fmt.Sprintf("schematic holds %d dies, limit is %d", len(parsed.Dies), s.cfg.MaxDies),
		})
	}

	parsed.ID = uuid.NewString()
	if err := s.store.Schematics.Put(ctx, parsed, data, c.Query("createdBy")); err != nil {
		return respondError(c, err)
	}
	log.Printf("schematic %s ingested: %s, %d dies", parsed.ID, parsed.Filename, len(parsed.Dies))
	return c.Status(http.StatusCreated).JSON(parsed)
}

func (s *Server) listSchematics(c fiber.Ctx) error {
	list, err := s.store.Schematics.List(context.Background())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"schematics": list, "count": len(list)})
}

func (s *Server) getSchematic(c fiber.Ctx) error {
	data, err := s.store.Schematics.Get(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(data)
}

func (s *Server) getDieBoundaries(c fiber.Ctx) error {
	data, err := s.store.Schematics.Get(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"dieBoundaries": data.Dies, "count": len(data.Dies)})
}

func (s *Server) deleteSchematic(c fiber.Ctx) error {
	if err := s.store.Schematics.Delete(context.Background(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// exportSchematic re-emits the parsed boundary set as SVG or DXF.
func (s *Server) exportSchematic(c fiber.Ctx) error {
	data, err := s.store.Schematics.Get(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	switch c.Params("format") {
	case "svg":
		out, err := emit.SVG(data)
		if err != nil {
			return respondError(c, err)
		}
		c.Set("Content-Type", "image/svg+xml")
		return c.Send(out)
	case "dxf":
		out, err := emit.DXF(data)
		if err != nil {
			return respondError(c, err)
		}
		c.Set("Content-Type", "application/dxf")
		return c.Send(out)
	}
	return badRequest(c, "export format must be svg or dxf")
}

// validateRequest is the body of POST /schematics/{id}/validate.
type validateRequest struct {
	StrategyID     string `json:"strategyId"`
	ValidationMode string `json:"validationMode,omitempty"`
	ValidatedBy    string `json:"validatedBy,omitempty"`
}

// validateSchematic runs the strategy-schematic alignment check and
// stores the result.
func (s *Server) validateSchematic(c fiber.Ctx) error {
	var req validateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid json body")
	}
	if req.StrategyID == "" {
		return badRequest(c, "strategyId is required")
	}
	mode := validate.Permissive
	switch req.ValidationMode {
	case "", string(validate.Permissive):
	case string(validate.Strict):
		mode = validate.Strict
	default:
		return badRequest(c, "validationMode must be strict or permissive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ValidateTimeout)
	defer cancel()

	sch, err := s.store.Schematics.Get(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	def, err := s.store.Strategies.Get(ctx, req.StrategyID, "")
	if err != nil {
		return respondError(c, err)
	}
	compiled, err := s.compile(def)
	if err != nil {
		return respondError(c, err)
	}

	result, err := validate.Run(ctx, sch, compiled, mode, strategy.ExecContext{WaferSize: sch.WaferSize})
	if err != nil {
		return respondError(c, err)
	}
	result.ID = uuid.NewString()
	result.ValidatedBy = req.ValidatedBy
	result.ValidationDate = time.Now().UTC()
	if err := s.store.Validations.Put(ctx, result); err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (s *Server) listValidations(c fiber.Ctx) error {
	list, err := s.store.Validations.List(context.Background(), repo.ValidationFilter{
		SchematicID: c.Query("schematicId"),
		StrategyID:  c.Query("strategyId"),
	})
	if err != nil {
		return respondError(c, err)
	}
	summaries := make([]fiber.Map, 0, len(list))
	for _, r := range list {
		summaries = append(summaries, fiber.Map{
			"id":               r.ID,
			"strategyId":       r.StrategyID,
			"schematicId":      r.SchematicID,
			"validationStatus": r.ValidationStatus,
			"alignmentScore":   r.AlignmentScore,
			"coveragePct":      r.CoveragePct,
			"conflictCount":    len(r.Conflicts),
			"validationDate":   r.ValidationDate,
		})
	}
	return c.JSON(fiber.Map{"validations": summaries, "count": len(summaries)})
}

func (s *Server) getValidation(c fiber.Ctx) error {
	res, err := s.store.Validations.Get(context.Background(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func queryFloat(c fiber.Ctx, key string) float64 {
	v, _ := strconv.ParseFloat(c.Query(key), 64)
	return v
}
