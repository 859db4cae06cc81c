// Package svg parses SVG vector documents into the uniform die-boundary
// model. Rectangles map directly; polygons and paths contribute their
// bounding boxes; groups recurse with transform propagation; text supplies
// die ids.
package svg

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/fabworks/wafersampler/pkg/geometry"
)

// pathLexer tokenizes SVG path data: single-letter commands and numbers
// separated by whitespace or commas.
var pathLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Command", Pattern: `[MmLlHhVvZzCcSsQqTtAa]`},
	{Name: "Number", Pattern: `[-+]?(?:[0-9]*\.[0-9]+|[0-9]+\.?)(?:[eE][-+]?[0-9]+)?`},
	{Name: "Sep", Pattern: `[\s,]+`},
})

// pathData is the parsed command list of a path's d attribute.
type pathData struct {
	Segments []pathSegment `parser:"@@*"`
}

type pathSegment struct {
	Cmd  string    `parser:"@Command"`
	Args []float64 `parser:"@Number*"`
}

var pathParser = participle.MustBuild[pathData](
	participle.Lexer(pathLexer),
	participle.Elide("Sep"),
)

// pathBounds evaluates path data and returns the bounding box of every
// endpoint and control point touched. Arc segments contribute their
// endpoints only.
func pathBounds(d string) (geometry.Bounds, bool) {
	pd, err := pathParser.ParseString("", d)
	if err != nil {
		return geometry.Bounds{}, false
	}

	b := geometry.NewBounds()
	var cur, start geometry.Point2D
	touch := func(p geometry.Point2D) {
		b = b.Expand(p)
	}

	for _, seg := range pd.Segments {
		rel := seg.Cmd >= "a" && seg.Cmd <= "z"
		args := seg.Args

		switch seg.Cmd {
		case "M", "m":
			for i := 0; i+1 < len(args); i += 2 {
				p := geometry.Point2D{X: args[i], Y: args[i+1]}
				if rel {
					p.X += cur.X
					p.Y += cur.Y
				}
				cur = p
				if i == 0 {
					start = p
				}
				touch(cur)
			}
		case "L", "l", "T", "t":
			for i := 0; i+1 < len(args); i += 2 {
				p := geometry.Point2D{X: args[i], Y: args[i+1]}
				if rel {
					p.X += cur.X
					p.Y += cur.Y
				}
				cur = p
				touch(cur)
			}
		case "H", "h":
			for _, v := range args {
				if rel {
					cur.X += v
				} else {
					cur.X = v
				}
				touch(cur)
			}
		case "V", "v":
			for _, v := range args {
				if rel {
					cur.Y += v
				} else {
					cur.Y = v
				}
				touch(cur)
			}
		case "C", "c":
			cur = touchTuples(args, 6, rel, cur, touch)
		case "S", "s", "Q", "q":
			cur = touchTuples(args, 4, rel, cur, touch)
		case "A", "a":
			// rx ry rot large-arc sweep x y
			for i := 0; i+6 < len(args); i += 7 {
				p := geometry.Point2D{X: args[i+5], Y: args[i+6]}
				if rel {
					p.X += cur.X
					p.Y += cur.Y
				}
				cur = p
				touch(cur)
			}
		case "Z", "z":
			cur = start
		}
	}
	return b, b.Valid()
}

// touchTuples walks fixed-width coordinate tuples (curve commands), touching
// every point; the last pair of each tuple becomes the current point.
func touchTuples(args []float64, width int, rel bool, cur geometry.Point2D, touch func(geometry.Point2D)) geometry.Point2D {
	for i := 0; i+width-1 < len(args); i += width {
		for j := 0; j+1 < width; j += 2 {
			p := geometry.Point2D{X: args[i+j], Y: args[i+j+1]}
			if rel {
				p.X += cur.X
				p.Y += cur.Y
			}
			touch(p)
			if j == width-2 {
				cur = p
			}
		}
	}
	return cur
}
