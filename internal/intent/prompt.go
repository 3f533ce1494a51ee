package intent

import (
	"fmt"
	"strings"

	"github.com/edusql/edusql/internal/permission"
)

const systemPrompt = `你是教育机构管理系统的查询意图分析器。判断用户的问题是否需要查询数据库，并只返回严格的 JSON，不要输出任何其他文字。`

func buildPrompt(text string, permitted []permission.Table) string {
	var tables strings.Builder
	for _, table := range permitted {
		fmt.Fprintf(&tables, "- %s: %s\n", table.Name, table.Description)
	}
	return fmt.Sprintf(`用户问题: %s

当前用户可访问的数据表:
%s
返回如下 JSON:
{
  "isDataQuery": true 或 false (问候、闲聊、系统使用咨询为 false),
  "queryType": "student" | "teacher" | "activity" | "enrollment" | "financial" | "statistics" | "unknown",
  "confidence": 0 到 1 之间的小数,
  "requiredTables": [只能从上面的表中选择],
  "explanation": "一句话说明判断理由",
  "keywords": ["问题中的关键词"]
}`, strings.TrimSpace(text), tables.String())
}
