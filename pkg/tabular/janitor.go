package tabular

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
)

var (
	numberPattern   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	numberCharStrip = regexp.MustCompile(`[^\d.\-]`)
)

// cleanNumberText keeps the first numeric run of a cell as written:
// "USD 1,234.50" becomes "1234.50". Used on the adapter path, which
// preserves the source's own rendering.
func cleanNumberText(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, ",", "")
	return numberPattern.FindString(text)
}

// cleanNumberDecimal parses the numeric content of a cell and
// re-renders it as a decimal, so "USD 3" becomes "3.0". Used on the
// manual-recipe path, which normalizes values.
func cleanNumberDecimal(value string) string {
	stripped := numberCharStrip.ReplaceAllString(value, "")
	if stripped == "" {
		return ""
	}
	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return ""
	}
	text := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}
	return text
}

// cleanDateValue parses a cell as a date and emits the ISO form.
// Unparseable values pass through unchanged on the adapter path.
func cleanDateValue(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	parsed, err := dateparse.ParseAny(text)
	if err != nil {
		return text
	}
	return parsed.Format("2006-01-02")
}

// cleanRecipeValue applies manual-recipe typing to one cell.
func cleanRecipeValue(value, dtype string) string {
	switch dtype {
	case "number":
		return cleanNumberDecimal(value)
	case "date":
		text := strings.TrimSpace(value)
		if text == "" {
			return ""
		}
		parsed, err := dateparse.ParseAny(text)
		if err != nil {
			return ""
		}
		return parsed.Format("2006-01-02")
	default:
		return strings.TrimSpace(value)
	}
}

// applyAdapterTypes runs the adapter-layer cleaners over every cell.
// types is positional, matching the output headers.
func applyAdapterTypes(rows [][]string, types []string) [][]string {
	cleaned := make([][]string, len(rows))
	for r, row := range rows {
		out := make([]string, len(row))
		for idx, value := range row {
			dtype := "string"
			if idx < len(types) {
				dtype = types[idx]
			}
			switch dtype {
			case "number":
				out[idx] = cleanNumberText(value)
			case "date":
				out[idx] = cleanDateValue(value)
			default:
				out[idx] = value
			}
		}
		cleaned[r] = out
	}
	return cleaned
}

// inferDtype guesses number vs string from the non-empty values of a
// column.
func inferDtype(values []string) string {
	nonEmpty := 0
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		nonEmpty++
		if !numericLike(v) {
			return "string"
		}
	}
	if nonEmpty == 0 {
		return "string"
	}
	return "number"
}

// allFilled reports whether every value in a column is non-empty;
// empty columns are not considered required.
func allFilled(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}
