package intent

import "strings"

type Category string

const (
	CategoryStudent    Category = "student"
	CategoryTeacher    Category = "teacher"
	CategoryActivity   Category = "activity"
	CategoryEnrollment Category = "enrollment"
	CategoryFinancial  Category = "financial"
	CategoryStatistics Category = "statistics"
	CategoryUnknown    Category = "unknown"
)

var categoryAliases = map[string]Category{
	"student":     CategoryStudent,
	"students":    CategoryStudent,
	"学生":          CategoryStudent,
	"teacher":     CategoryTeacher,
	"teachers":    CategoryTeacher,
	"教师":          CategoryTeacher,
	"activity":    CategoryActivity,
	"activities":  CategoryActivity,
	"活动":          CategoryActivity,
	"enrollment":  CategoryEnrollment,
	"enrollments": CategoryEnrollment,
	"招生":          CategoryEnrollment,
	"报名":          CategoryEnrollment,
	"financial":   CategoryFinancial,
	"finance":     CategoryFinancial,
	"财务":          CategoryFinancial,
	"statistics":  CategoryStatistics,
	"statistic":   CategoryStatistics,
	"stats":       CategoryStatistics,
	"统计":          CategoryStatistics,
}

// ParseCategory maps model output onto the closed category set.
func ParseCategory(raw string) Category {
	if category, ok := categoryAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return category
	}
	return CategoryUnknown
}

func (c Category) Known() bool {
	return c != CategoryUnknown && c != ""
}
