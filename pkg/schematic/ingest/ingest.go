// Package ingest dispatches uploaded layout bytes to the right format
// parser. Detection goes by filename extension first, then by sniffing the
// leading bytes; when the two disagree, the sniff wins.
package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/schematic/dxf"
	"github.com/fabworks/wafersampler/pkg/schematic/gdsii"
	"github.com/fabworks/wafersampler/pkg/schematic/svg"
)

// SupportedExtensions lists the accepted upload extensions per format.
var SupportedExtensions = map[schematic.Format][]string{
	schematic.FormatGDSII: {".gds", ".gdsii"},
	schematic.FormatDXF:   {".dxf"},
	schematic.FormatSVG:   {".svg"},
}

// Formats returns the supported format names.
func Formats() []schematic.Format {
	return []schematic.Format{schematic.FormatGDSII, schematic.FormatDXF, schematic.FormatSVG}
}

// byExtension maps a filename to a format, or "".
func byExtension(filename string) schematic.Format {
	ext := strings.ToLower(filepath.Ext(filename))
	for format, exts := range SupportedExtensions {
		for _, e := range exts {
			if e == ext {
				return format
			}
		}
	}
	return ""
}

// sniff inspects the leading bytes. A GDSII stream opens with a HEADER
// record: a small big-endian length and record type 0x00, data type 0x02.
// SVG and DXF are both text; SVG shows XML markup, DXF a group-code pair.
func sniff(head []byte) schematic.Format {
	if len(head) >= 4 {
		length := binary.BigEndian.Uint16(head[:2])
		if head[2] == 0x00 && head[3] == 0x02 && length >= 4 && length <= 8 {
			return schematic.FormatGDSII
		}
	}
	text := strings.TrimLeft(string(head), " \t\r\n\ufeff")
	if strings.HasPrefix(text, "<?xml") || strings.HasPrefix(text, "<svg") || strings.HasPrefix(text, "<!DOCTYPE svg") {
		return schematic.FormatSVG
	}
	if looksLikeDXF(text) {
		return schematic.FormatDXF
	}
	return ""
}

// looksLikeDXF accepts text whose first two lines form a group code /
// value pair, the shape every DXF file opens with.
func looksLikeDXF(text string) bool {
	lines := strings.SplitN(text, "\n", 3)
	if len(lines) < 2 {
		return false
	}
	first := strings.TrimSpace(lines[0])
	if first == "" {
		return false
	}
	for _, r := range first {
		if r < '0' || r > '9' {
			return false
		}
	}
	second := strings.ToUpper(strings.TrimSpace(lines[1]))
	return second == "SECTION" || second == "COMMENT" || strings.HasPrefix(second, "AC")
}

// Detect resolves the format for an upload. Extension and sniff are both
// consulted; a sniff result overrides a conflicting extension.
func Detect(filename string, head []byte) (schematic.Format, error) {
	extFormat := byExtension(filename)
	sniffed := sniff(head)

	switch {
	case sniffed != "":
		return sniffed, nil
	case extFormat != "":
		return extFormat, nil
	default:
		return "", fmt.Errorf("ingest: unsupported format for %q (supported: gdsii, dxf, svg)", filename)
	}
}

// Parse detects the format and runs the matching parser.
func Parse(ctx context.Context, filename string, data []byte, opts schematic.ParseOptions) (*schematic.Data, error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	format, err := Detect(filename, head)
	if err != nil {
		return nil, err
	}

	var r io.Reader = bytes.NewReader(data)
	switch format {
	case schematic.FormatGDSII:
		return gdsii.Parse(ctx, r, filename, opts)
	case schematic.FormatDXF:
		return dxf.Parse(ctx, r, filename, opts)
	case schematic.FormatSVG:
		return svg.Parse(ctx, r, filename, opts)
	default:
		return nil, fmt.Errorf("ingest: no parser for format %q", format)
	}
}
