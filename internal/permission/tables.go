package permission

var roleTables = map[Role][]string{
	RolePrincipal: {
		// operations
		"students", "classes", "teachers", "courses", "class_students", "schedules",
		"classrooms", "campuses", "attendance_records", "activities",
		"activity_registrations", "activity_participants",
		// enrollment and finance
		"enrollments", "enrollment_leads", "tuition_fees", "payments", "refunds", "invoices",
		// marketing
		"marketing_campaigns", "marketing_channels", "leads", "lead_followups", "coupons", "referrals",
		// system
		"staff", "departments", "users", "notifications", "feedback", "audit_logs",
	},
	RoleTeacher: {
		"students", "classes", "courses", "class_students", "schedules",
		"attendance_records", "activities", "activity_participants", "homework", "exam_scores",
	},
	RoleParent: {
		"students", "classes", "schedules", "attendance_records",
		"activities", "homework", "exam_scores",
	},
}

var defaultRoleTables = []string{"students", "classes"}

var coreTables = []string{
	"students", "classes", "teachers", "courses", "class_students",
	"activities", "activity_registrations", "enrollments", "payments",
}

var tableDescriptions = map[string]string{
	"students":               "学生信息表 (student profiles: name, gender, birth_date, status)",
	"classes":                "班级表 (classes with head teacher and campus)",
	"teachers":               "教师信息表 (teacher profiles and subjects)",
	"courses":                "课程表 (course catalog)",
	"class_students":         "班级学生关系表 (class membership)",
	"schedules":              "课程安排表 (timetable entries)",
	"classrooms":             "教室表 (rooms and capacity)",
	"campuses":               "校区表 (campus locations)",
	"attendance_records":     "考勤记录表 (daily attendance)",
	"activities":             "活动表 (school activities)",
	"activity_registrations": "活动报名表 (activity sign-ups)",
	"activity_participants":  "活动参与表 (actual activity participation)",
	"enrollments":            "报名表 (course enrollments)",
	"enrollment_leads":       "招生线索表 (enrollment prospects)",
	"tuition_fees":           "学费标准表 (fee schedules)",
	"payments":               "缴费记录表 (payments received)",
	"refunds":                "退费记录表 (refunds issued)",
	"invoices":               "发票表 (invoices)",
	"marketing_campaigns":    "营销活动表 (marketing campaigns)",
	"marketing_channels":     "营销渠道表 (acquisition channels)",
	"leads":                  "潜在客户表 (sales leads)",
	"lead_followups":         "线索跟进表 (lead follow-up records)",
	"coupons":                "优惠券表 (discount coupons)",
	"referrals":              "转介绍表 (referrals)",
	"staff":                  "员工表 (non-teaching staff)",
	"departments":            "部门表 (departments)",
	"users":                  "系统用户表 (system accounts)",
	"notifications":          "通知表 (notifications sent)",
	"feedback":               "反馈表 (parent and student feedback)",
	"audit_logs":             "审计日志表 (audit trail)",
	"homework":               "作业表 (homework assignments and submissions)",
	"exam_scores":            "考试成绩表 (exam results)",
}
