package nl2sql

import (
	"fmt"
	"strings"

	"github.com/edusql/edusql/internal/intent"
)

func systemPrompt(dialect string) string {
	if dialect == "" {
		dialect = "PostgreSQL"
	}
	return "你是教育机构管理系统的 SQL 专家。根据表结构把用户问题转换为一条 " + dialect + " SELECT 语句。" +
		"只输出 SQL 本身，不要 markdown，不要解释，不要注释，只能有一条语句。"
}

// commonHints apply to every question.
var commonHints = []string{
	"只使用下方表结构中列出的表和字段，不要臆造字段。",
	"学生表没有 age 字段，年龄需要根据 birth_date 计算。",
	"不要使用 SELECT *，请列出需要的字段并为聚合结果起有意义的别名。",
	"统计类问题使用 COUNT/SUM 并配合 GROUP BY，结果按数值降序排列。",
}

// categoryHints are the field-mapping corrections for each question category.
var categoryHints = map[intent.Category][]string{
	intent.CategoryStudent: {
		"学生所在班级通过 class_students 关联，不要假设 students 表有 class_name 字段。",
		"学生状态使用 students.status 字段。",
	},
	intent.CategoryTeacher: {
		"班主任通过 classes.head_teacher_id 关联 teachers.id。",
		"教师授课信息来自 schedules 表，而不是 courses 表。",
	},
	intent.CategoryActivity: {
		"统计活动参与人数请使用 activity_participants 表，而不是 activity_registrations。",
		"activity_registrations 只表示报名，不代表实际参加。",
		"活动时间使用 activities.start_time 与 activities.end_time。",
	},
	intent.CategoryEnrollment: {
		"报名时间使用 enrollments.created_at。",
		"潜在生源来自 enrollment_leads 表。",
	},
	intent.CategoryFinancial: {
		"收入金额使用 payments.amount，退费使用 refunds.amount，净收入需要相减。",
		"缴费时间使用 payments.paid_at。",
	},
	intent.CategoryStatistics: {
		"按班级统计学生人数时通过 class_students 关联 classes，并用 classes.name 作为分组标签。",
		"结果只返回一个标签列和一个数值列，便于绘制图表。",
	},
}

// Hints returns the mapping rules for category, common rules first.
func Hints(category intent.Category) []string {
	hints := append([]string(nil), commonHints...)
	return append(hints, categoryHints[category]...)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "用户问题: %s\n", strings.TrimSpace(req.Question))
	if req.Category != "" {
		fmt.Fprintf(&b, "问题类型: %s\n", req.Category)
	}
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "关键词: %s\n", strings.Join(req.Keywords, ", "))
	}
	b.WriteString("\n表结构:\n")
	b.WriteString(req.Schema)
	b.WriteString("\n字段映射规则:\n")
	for i, hint := range Hints(req.Category) {
		fmt.Fprintf(&b, "%d. %s\n", i+1, hint)
	}
	b.WriteString("\n只返回一条 SELECT 语句。")
	return b.String()
}
