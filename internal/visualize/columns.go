package visualize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edusql/edusql/internal/query"
)

var (
	countQuestion   = regexp.MustCompile(`(?i)(统计|多少|数量|人数|几个|count|how many|number of|分布)`)
	categoricalName = regexp.MustCompile(`(?i)(status|type|category|gender|grade|level|channel|状态|类型|类别|性别|年级|渠道)`)
	timeName        = regexp.MustCompile(`(?i)(date|time|month|year|day|week|_at$|^at$|period|日期|时间|月份|年份)`)
	amountName      = regexp.MustCompile(`(?i)(amount|total|sum|revenue|fee|price|income|金额|收入|费用|总额)`)
)

func isCountQuestion(text string) bool {
	return countQuestion.MatchString(text)
}

func isCategoricalColumn(result query.Result, i int) bool {
	return categoricalName.MatchString(result.Columns[i]) && !isNumeric(firstValue(result, i))
}

func isTimeColumn(result query.Result, i int) bool {
	if timeName.MatchString(result.Columns[i]) {
		return true
	}
	switch v := firstValue(result, i).(type) {
	case time.Time:
		return true
	case string:
		return looksLikeDate(v)
	}
	return false
}

func isAmountColumn(result query.Result, i int) bool {
	return amountName.MatchString(result.Columns[i])
}

// findColumn returns the first column matching pred. With numeric set the
// column's first value must also be numeric.
func findColumn(result query.Result, pred func(query.Result, int) bool, numeric bool) (int, bool) {
	for i := range result.Columns {
		if !pred(result, i) {
			continue
		}
		if numeric && !isNumeric(firstValue(result, i)) {
			continue
		}
		return i, true
	}
	return 0, false
}

func firstValue(result query.Result, i int) any {
	if len(result.Rows) == 0 || i >= len(result.Rows[0]) {
		return nil
	}
	return result.Rows[0][i]
}

func isNumeric(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil
	}
	return false
}

func looksLikeDate(value string) bool {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
