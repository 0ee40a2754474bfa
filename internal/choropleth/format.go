package choropleth

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/market-atlas/internal/metric"
)

// NoDataLabel is shown wherever no value joins.
const NoDataLabel = "No Data"

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatValue renders v for legends and tooltips: "$1,234" for currency,
// "4.5%" for percent (fractions are scaled by 100 unless preScaled), and a
// grouped plain number otherwise.
func FormatValue(v float64, unit metric.Unit, preScaled bool) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NoDataLabel
	}
	switch unit {
	case metric.UnitCurrency:
		if v < 0 {
			return "-$" + printer.Sprintf("%.0f", -v)
		}
		return "$" + printer.Sprintf("%.0f", v)
	case metric.UnitPercent:
		if !preScaled {
			v *= 100
		}
		return printer.Sprintf("%.1f", v) + "%"
	default:
		s := printer.Sprintf("%.2f", v)
		s = strings.TrimRight(s, "0")
		return strings.TrimSuffix(s, ".")
	}
}

// FormatOptional formats a nullable value, yielding NoDataLabel for nil.
func FormatOptional(v *float64, unit metric.Unit, preScaled bool) string {
	if v == nil {
		return NoDataLabel
	}
	return FormatValue(*v, unit, preScaled)
}

// valueTextExpr is the map-style expression that renders the "value"
// feature property the same way FormatValue does.
func valueTextExpr(unit metric.Unit, preScaled bool) []any {
	val := []any{"get", "value"}
	var text []any
	switch {
	case unit == metric.UnitCurrency:
		text = []any{"concat", "$", []any{"number-format", val, map[string]any{"max-fraction-digits": 0}}}
	case unit == metric.UnitPercent && preScaled:
		text = []any{"concat", []any{"number-format", val, map[string]any{"max-fraction-digits": 1}}, "%"}
	case unit == metric.UnitPercent:
		text = []any{"concat", []any{"number-format", []any{"*", val, 100}, map[string]any{"max-fraction-digits": 1}}, "%"}
	default:
		text = []any{"number-format", val, map[string]any{"max-fraction-digits": 2}}
	}
	return []any{"case", []any{"has", "value"}, text, NoDataLabel}
}
