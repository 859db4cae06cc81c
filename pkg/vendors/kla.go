package vendors

import (
	"encoding/xml"
	"fmt"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// KLA emits the XML sampling plan KLA inspection tools ingest:
// corner-origin (lower-left) coordinates with the y-axis pointing down, so
// Y values flip relative to the engine's center-origin y-up convention.
type KLA struct{}

// KLAPlan is the emitted XML shape.
type KLAPlan struct {
	XMLName        xml.Name            `xml:"KLA_SamplingPlan"`
	Version        string              `xml:"version,attr"`
	Header         KLAHeader           `xml:"Header"`
	Sites          []KLASite           `xml:"Site"`
	ValidationInfo *KLAValidationInfo  `xml:"ValidationInfo,omitempty"`
	TransformInfo  KLATransformInfo    `xml:"TransformationInfo"`
}

type KLAHeader struct {
	StrategyName string `xml:"StrategyName"`
	WaferSize    string `xml:"WaferSize,omitempty"`
	ProductType  string `xml:"ProductType,omitempty"`
	TotalSites   int    `xml:"TotalSites"`
}

type KLASite struct {
	ID        int     `xml:"ID,attr"`
	XPosition float64 `xml:"X_Position,attr"`
	YPosition float64 `xml:"Y_Position,attr"`
	Enabled   string  `xml:"Enabled,attr"`
}

type KLAValidationInfo struct {
	Score  float64 `xml:"score,attr"`
	Status string  `xml:"status,attr"`
}

type KLATransformInfo struct {
	CoordinateSystem string `xml:"CoordinateSystem"`
	Units            string `xml:"Units"`
	YFlipped         bool   `xml:"YFlipped"`
}

func (k *KLA) Name() string        { return "kla" }
func (k *KLA) ContentType() string { return "application/xml" }

// Emit shifts the site list to a non-negative corner origin and flips Y.
func (k *KLA) Emit(res *engine.SimulationResult, meta Meta, val *validate.Result) ([]byte, error) {
	minX, minY, maxY := 0.0, 0.0, 0.0
	if len(res.SelectedPoints) > 0 {
		minX, minY = res.SelectedPoints[0].X, res.SelectedPoints[0].Y
		maxY = res.SelectedPoints[0].Y
		for _, p := range res.SelectedPoints {
			if p.X < minX {
				minX = p.X
			}
			if p.Y < minY {
				minY = p.Y
			}
			if p.Y > maxY {
				maxY = p.Y
			}
		}
	}

	sites := make([]KLASite, 0, len(res.SelectedPoints))
	for i, p := range res.SelectedPoints {
		sites = append(sites, KLASite{
			ID:        i + 1,
			XPosition: p.X - minX,
			YPosition: maxY - p.Y,
			Enabled:   fmt.Sprintf("%t", p.Available),
		})
	}

	plan := KLAPlan{
		Version: "2.0",
		Header: KLAHeader{
			StrategyName: meta.StrategyName,
			WaferSize:    meta.WaferSize,
			ProductType:  meta.ProductType,
			TotalSites:   len(sites),
		},
		Sites: sites,
		TransformInfo: KLATransformInfo{
			CoordinateSystem: "CornerOrigin",
			Units:            "Millimeters",
			YFlipped:         true,
		},
	}
	if val != nil {
		plan.ValidationInfo = &KLAValidationInfo{
			Score:  val.AlignmentScore,
			Status: string(val.ValidationStatus),
		}
	}

	body, err := xml.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
