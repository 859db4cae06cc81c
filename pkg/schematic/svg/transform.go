package svg

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fabworks/wafersampler/pkg/geometry"
)

// affine is a 2D affine transform in SVG matrix order:
//
//	| a c e |
//	| b d f |
type affine struct {
	a, b, c, d, e, f float64
}

func identityAffine() affine {
	return affine{a: 1, d: 1}
}

// compose returns the transform applying o first, then t (t * o), matching
// how nested group transforms stack in SVG.
func (t affine) compose(o affine) affine {
	return affine{
		a: t.a*o.a + t.c*o.b,
		b: t.b*o.a + t.d*o.b,
		c: t.a*o.c + t.c*o.d,
		d: t.b*o.c + t.d*o.d,
		e: t.a*o.e + t.c*o.f + t.e,
		f: t.b*o.e + t.d*o.f + t.f,
	}
}

func (t affine) apply(p geometry.Point2D) geometry.Point2D {
	return geometry.Point2D{
		X: t.a*p.X + t.c*p.Y + t.e,
		Y: t.b*p.X + t.d*p.Y + t.f,
	}
}

// applyBounds maps all four corners and returns their bounding box, which
// stays correct under rotation.
func (t affine) applyBounds(b geometry.Bounds) geometry.Bounds {
	out := geometry.NewBounds()
	for _, p := range []geometry.Point2D{
		{X: b.XMin, Y: b.YMin},
		{X: b.XMax, Y: b.YMin},
		{X: b.XMax, Y: b.YMax},
		{X: b.XMin, Y: b.YMax},
	} {
		out = out.Expand(t.apply(p))
	}
	return out
}

var transformFuncPattern = regexp.MustCompile(`(\w+)\s*\(([^)]*)\)`)

// parseTransformAttr decodes an SVG transform attribute: a sequence of
// translate/scale/matrix calls, applied left to right. Unrecognized
// functions are ignored.
func parseTransformAttr(s string) affine {
	out := identityAffine()
	for _, m := range transformFuncPattern.FindAllStringSubmatch(s, -1) {
		args := parseArgs(m[2])
		var step affine
		switch strings.ToLower(m[1]) {
		case "translate":
			step = identityAffine()
			if len(args) > 0 {
				step.e = args[0]
			}
			if len(args) > 1 {
				step.f = args[1]
			}
		case "scale":
			step = identityAffine()
			if len(args) > 0 {
				step.a = args[0]
				step.d = args[0]
			}
			if len(args) > 1 {
				step.d = args[1]
			}
		case "matrix":
			if len(args) != 6 {
				continue
			}
			step = affine{a: args[0], b: args[1], c: args[2], d: args[3], e: args[4], f: args[5]}
		default:
			continue
		}
		out = out.compose(step)
	}
	return out
}

func parseArgs(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' || r == '\n' })
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
