package vendors

import (
	"encoding/json"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// ASML emits the JSON recipe ASML lithography tools ingest: center-origin
// coordinates, y-axis up, micrometer units.
type ASML struct{}

// ASMLDocument is the emitted JSON shape.
type ASMLDocument struct {
	Format          string          `json:"format"`
	Version         string          `json:"version"`
	WaferData       ASMLWaferData   `json:"wafer_data"`
	SamplingPoints  []ASMLSite      `json:"sampling_points"`
	ValidationScore *float64        `json:"validation_score,omitempty"`
	VendorSpecific  map[string]any  `json:"vendor_specific"`
}

type ASMLWaferData struct {
	Size        string `json:"size"`
	ProductType string `json:"product_type"`
	Layer       string `json:"layer"`
}

type ASMLSite struct {
	SiteX   float64 `json:"SiteX"`
	SiteY   float64 `json:"SiteY"`
	Enabled bool    `json:"Enabled"`
}

func (a *ASML) Name() string        { return "asml" }
func (a *ASML) ContentType() string { return "application/json" }

// Emit re-centers the site list about its bounding-box midpoint; the
// engine's y-up axis carries through unchanged.
func (a *ASML) Emit(res *engine.SimulationResult, meta Meta, val *validate.Result) ([]byte, error) {
	cx, cy := 0.0, 0.0
	if len(res.SelectedPoints) > 0 {
		minX, maxX := res.SelectedPoints[0].X, res.SelectedPoints[0].X
		minY, maxY := res.SelectedPoints[0].Y, res.SelectedPoints[0].Y
		for _, p := range res.SelectedPoints {
			if p.X < minX {
				minX = p.X
			}
			if p.X > maxX {
				maxX = p.X
			}
			if p.Y < minY {
				minY = p.Y
			}
			if p.Y > maxY {
				maxY = p.Y
			}
		}
		cx = (minX + maxX) / 2
		cy = (minY + maxY) / 2
	}

	sites := make([]ASMLSite, 0, len(res.SelectedPoints))
	for _, p := range res.SelectedPoints {
		sites = append(sites, ASMLSite{
			SiteX:   p.X - cx,
			SiteY:   p.Y - cy,
			Enabled: p.Available,
		})
	}

	doc := ASMLDocument{
		Format:  "ASML_JSON",
		Version: meta.Version,
		WaferData: ASMLWaferData{
			Size:        meta.WaferSize,
			ProductType: meta.ProductType,
			Layer:       meta.ProcessLayer,
		},
		SamplingPoints: sites,
		VendorSpecific: map[string]any{
			"strategy_id":       meta.StrategyID,
			"strategy_name":     meta.StrategyName,
			"coordinate_system": "CenterOrigin",
			"units":             "Micrometers",
			"total_sites":       len(sites),
		},
	}
	for k, v := range meta.VendorParams {
		doc.VendorSpecific[k] = v
	}
	if val != nil {
		score := val.AlignmentScore
		doc.ValidationScore = &score
	}

	return json.MarshalIndent(doc, "", "  ")
}
