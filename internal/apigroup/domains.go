package apigroup

// Endpoint describes one administrative API the planner can point at.
type Endpoint struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Keywords    []string `json:"-"`
}

// Domain groups related endpoints. Domains sharing a Group are considered
// related and never produce a plan on their own.
type Domain struct {
	Name      string
	Group     string
	Title     string
	Keywords  []string
	Endpoints []Endpoint
}

var domains = []Domain{
	{
		Name:     "student",
		Group:    "academic",
		Title:    "学生管理",
		Keywords: []string{"学生", "学员", "student", "班级", "考勤", "出勤"},
		Endpoints: []Endpoint{
			{Method: "GET", Path: "/api/students", Description: "学生列表", Keywords: []string{"学生", "列表", "student"}},
			{Method: "GET", Path: "/api/students/statistics", Description: "学生统计", Keywords: []string{"学生", "统计", "人数", "数量"}},
			{Method: "GET", Path: "/api/classes", Description: "班级列表", Keywords: []string{"班级", "class"}},
			{Method: "GET", Path: "/api/attendance", Description: "考勤记录", Keywords: []string{"考勤", "出勤", "attendance"}},
		},
	},
	{
		Name:     "teacher",
		Group:    "academic",
		Title:    "教师管理",
		Keywords: []string{"教师", "老师", "teacher", "课表", "排课"},
		Endpoints: []Endpoint{
			{Method: "GET", Path: "/api/teachers", Description: "教师列表", Keywords: []string{"教师", "老师", "列表"}},
			{Method: "GET", Path: "/api/schedules", Description: "排课信息", Keywords: []string{"课表", "排课", "schedule"}},
			{Method: "GET", Path: "/api/teachers/workload", Description: "教师课时统计", Keywords: []string{"课时", "统计", "工作量"}},
		},
	},
	{
		Name:     "activity",
		Group:    "academic",
		Title:    "校园活动",
		Keywords: []string{"校园活动", "活动报名", "参与", "activity"},
		Endpoints: []Endpoint{
			{Method: "GET", Path: "/api/activities", Description: "活动列表", Keywords: []string{"活动", "列表"}},
			{Method: "GET", Path: "/api/activities/registrations", Description: "活动报名情况", Keywords: []string{"报名", "活动报名"}},
			{Method: "GET", Path: "/api/activities/participants", Description: "活动参与统计", Keywords: []string{"参与", "统计", "人数"}},
		},
	},
	{
		Name:     "marketing",
		Group:    "marketing",
		Title:    "营销推广",
		Keywords: []string{"营销", "推广", "营销活动", "渠道", "线索", "优惠券", "marketing", "campaign"},
		Endpoints: []Endpoint{
			{Method: "GET", Path: "/api/marketing/campaigns", Description: "营销活动列表", Keywords: []string{"营销活动", "营销", "campaign"}},
			{Method: "GET", Path: "/api/marketing/channels", Description: "渠道效果分析", Keywords: []string{"渠道", "效果", "转化"}},
			{Method: "GET", Path: "/api/marketing/leads", Description: "线索列表", Keywords: []string{"线索", "潜在客户"}},
			{Method: "GET", Path: "/api/marketing/coupons", Description: "优惠券使用情况", Keywords: []string{"优惠券", "coupon"}},
		},
	},
	// Payments and refunds reference students, so finance shares their group.
	{
		Name:     "finance",
		Group:    "academic",
		Title:    "财务管理",
		Keywords: []string{"缴费", "收费", "学费", "退费", "收入", "财务", "发票", "payment"},
		Endpoints: []Endpoint{
			{Method: "GET", Path: "/api/finance/payments", Description: "缴费记录", Keywords: []string{"缴费", "收费", "payment"}},
			{Method: "GET", Path: "/api/finance/refunds", Description: "退费记录", Keywords: []string{"退费", "refund"}},
			{Method: "GET", Path: "/api/finance/summary", Description: "收入汇总", Keywords: []string{"收入", "汇总", "统计"}},
		},
	},
	{
		Name:     "enrollment",
		Group:    "business",
		Title:    "招生管理",
		Keywords: []string{"招生", "报名课程", "试听", "enrollment"},
		Endpoints: []Endpoint{
			{Method: "GET", Path: "/api/enrollments", Description: "报名记录", Keywords: []string{"报名", "招生"}},
			{Method: "GET", Path: "/api/enrollments/funnel", Description: "招生转化漏斗", Keywords: []string{"转化", "漏斗", "试听"}},
		},
	},
}
