// Package keys builds the Redis keys for cached lake reports.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

const prefix = "ndvi:v1"

// AnalysisKey is ndvi:v1:<lake-cell>:<name>:p=<hash>. The hash covers the
// lake geometry and every analysis parameter, so any change yields a new key.
func AnalysisKey(lakeCell string, lake model.WaterBody, a config.Analysis) string {
	name := sanitizeForKey(strings.ToLower(collapseASCIIWhitespace(lake.Name)))
	const maxNameLen = 64
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return fmt.Sprintf("%s:%s:%s:p=%016x", prefix, lakeCell, name, xxhash.Sum64String(Canonical(lake, a)))
}

// CellIndexKey names the set of analysis keys whose lake covers cell.
func CellIndexKey(cell string) string {
	return prefix + ":cellidx:" + cell
}

// Canonical renders the inputs of a run as stable text.
func Canonical(lake model.WaterBody, a config.Analysis) string {
	var b strings.Builder
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	if lake.IsPolygon() {
		b.WriteString("outline=")
		for _, p := range lake.Outline {
			b.WriteString(f(p.Lat) + " " + f(p.Lng) + ";")
		}
	} else if lake.Point != nil {
		b.WriteString("point=" + f(lake.Point.Lat) + " " + f(lake.Point.Lng) + ";r=" + f(lake.RadiusM))
	}
	b.WriteString("|bp=")
	for _, x := range a.Rings.Breakpoints {
		b.WriteString(f(x) + ",")
	}
	fmt.Fprintf(&b, "|disk=%t|seg=%d", a.Rings.InnerDisk, a.Rings.Segments)
	fmt.Fprintf(&b, "|dry=%v|monsoon=%v", months(a.Seasons.Dry), months(a.Seasons.Monsoon))
	fmt.Fprintf(&b, "|bands=%s,%s,%s|clear=%v|eps=%s",
		a.Index.RedBand, a.Index.NIRBand, a.Index.QualityBand, a.Index.ClearClasses, f(a.Index.Epsilon))
	fmt.Fprintf(&b, "|minpx=%d|minn=%d|unit=%s", a.Aggregate.MinPixels, a.Trend.MinSamples, a.Trend.Unit)
	fmt.Fprintf(&b, "|coll=%s|from=%s|to=%s|cloud=%s|margin=%s",
		strings.ToLower(a.Fetch.Collection), a.Fetch.Start.Format(time.DateOnly), a.Fetch.End.Format(time.DateOnly),
		f(a.Fetch.MaxCloudCover), f(a.Fetch.MarginM))
	return b.String()
}

func months(ms []time.Month) []int {
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = int(m)
	}
	return out
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// ':' separates key segments, so it is replaced too
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
