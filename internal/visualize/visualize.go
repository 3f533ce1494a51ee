// Package visualize picks a display form for a query result from its shape,
// the question text and the question category.
package visualize

import (
	"strings"

	"github.com/edusql/edusql/internal/intent"
	"github.com/edusql/edusql/internal/query"
)

type ChartType string

const (
	ChartTable ChartType = "table"
	ChartBar   ChartType = "bar"
	ChartPie   ChartType = "pie"
	ChartLine  ChartType = "line"
)

type Spec struct {
	Type       ChartType `json:"type"`
	Title      string    `json:"title"`
	XField     string    `json:"x_field,omitempty"`
	YField     string    `json:"y_field,omitempty"`
	LabelField string    `json:"label_field,omitempty"`
	ValueField string    `json:"value_field,omitempty"`
	Columns    []string  `json:"columns,omitempty"`
}

// heuristic returns false when it has no opinion on the result.
type heuristic func(result query.Result, text string) (Spec, bool)

var categoryHeuristics = map[intent.Category]heuristic{
	intent.CategoryStatistics: statisticsHeuristic,
	intent.CategoryStudent:    groupedHeuristic,
	intent.CategoryTeacher:    groupedHeuristic,
	intent.CategoryActivity:   groupedHeuristic,
	intent.CategoryFinancial:  financialHeuristic,
}

// Select is deterministic for identical inputs.
func Select(result query.Result, text string, category intent.Category) Spec {
	title := titleFor(text)
	if len(result.Rows) < 2 || len(result.Columns) == 0 {
		return tableSpec(result, title)
	}
	if h, ok := categoryHeuristics[category]; ok {
		if spec, ok := h(result, text); ok {
			spec.Title = title
			return spec
		}
	}
	spec := genericHeuristic(result, text)
	spec.Title = title
	return spec
}

func statisticsHeuristic(result query.Result, text string) (Spec, bool) {
	if spec, ok := lineSpec(result); ok {
		return spec, true
	}
	if spec, ok := pieSpec(result); ok {
		return spec, true
	}
	return barSpec(result)
}

func groupedHeuristic(result query.Result, text string) (Spec, bool) {
	if spec, ok := pieSpec(result); ok {
		return spec, true
	}
	if spec, ok := lineSpec(result); ok {
		return spec, true
	}
	if len(result.Columns) == 2 {
		return barSpec(result)
	}
	return Spec{}, false
}

func financialHeuristic(result query.Result, text string) (Spec, bool) {
	if spec, ok := lineSpec(result); ok {
		return spec, true
	}
	if len(result.Columns) == 2 {
		return barSpec(result)
	}
	return Spec{}, false
}

func genericHeuristic(result query.Result, text string) Spec {
	if isCountQuestion(text) && len(result.Columns) == 2 {
		if spec, ok := barSpec(result); ok {
			return spec
		}
	}
	if amount, ok := findColumn(result, isAmountColumn, true); ok {
		if when, ok := findColumn(result, isTimeColumn, false); ok && when != amount {
			return Spec{Type: ChartLine, XField: result.Columns[when], YField: result.Columns[amount]}
		}
	}
	return tableSpec(result, "")
}

// pieSpec wants a status/type/category label and one numeric value.
func pieSpec(result query.Result) (Spec, bool) {
	if len(result.Columns) != 2 || len(result.Rows) > 12 {
		return Spec{}, false
	}
	label, ok := findColumn(result, isCategoricalColumn, false)
	if !ok {
		return Spec{}, false
	}
	value := 1 - label
	if !isNumeric(firstValue(result, value)) {
		return Spec{}, false
	}
	return Spec{Type: ChartPie, LabelField: result.Columns[label], ValueField: result.Columns[value]}, true
}

// lineSpec wants a time column and a numeric column.
func lineSpec(result query.Result) (Spec, bool) {
	when, ok := findColumn(result, isTimeColumn, false)
	if !ok {
		return Spec{}, false
	}
	for i := range result.Columns {
		if i != when && isNumeric(firstValue(result, i)) {
			return Spec{Type: ChartLine, XField: result.Columns[when], YField: result.Columns[i]}, true
		}
	}
	return Spec{}, false
}

// barSpec wants a label column followed by a numeric column.
func barSpec(result query.Result) (Spec, bool) {
	if len(result.Columns) != 2 {
		return Spec{}, false
	}
	label, value := 0, 1
	if isNumeric(firstValue(result, 0)) && !isNumeric(firstValue(result, 1)) {
		label, value = 1, 0
	}
	if !isNumeric(firstValue(result, value)) {
		return Spec{}, false
	}
	return Spec{Type: ChartBar, XField: result.Columns[label], YField: result.Columns[value]}, true
}

func tableSpec(result query.Result, title string) Spec {
	return Spec{Type: ChartTable, Title: title, Columns: append([]string(nil), result.Columns...)}
}

func titleFor(text string) string {
	title := strings.TrimSpace(text)
	runes := []rune(title)
	if len(runes) > 40 {
		return string(runes[:40]) + "..."
	}
	return title
}
