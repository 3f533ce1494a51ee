// Package apigroup detects questions that span several unrelated functional
// areas and answers them with a plan of API calls instead of one SQL query.
// Plans are descriptive only; nothing here calls the endpoints.
package apigroup

import (
	"sort"
	"strings"
)

const (
	minGroups           = 2
	maxEndpointsPerStep = 3
)

type ScoredEndpoint struct {
	Endpoint
	Score float64 `json:"score"`
}

type Step struct {
	Order     int              `json:"order"`
	Domain    string           `json:"domain"`
	Title     string           `json:"title"`
	Endpoints []ScoredEndpoint `json:"apis"`
}

type Parameters struct {
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
	SortBy    string            `json:"sort_by"`
	SortOrder string            `json:"sort_order"`
	Filters   map[string]string `json:"filters,omitempty"`
}

type Plan struct {
	Steps      []Step     `json:"steps"`
	Parameters Parameters `json:"parameters"`
}

// Detect returns the names of domains mentioned in text, in catalog order.
func Detect(text string) []string {
	normalized := strings.ToLower(text)
	var matched []string
	for _, domain := range domains {
		if matchesAny(normalized, domain.Keywords) {
			matched = append(matched, domain.Name)
		}
	}
	return matched
}

// Build returns a plan when text mentions domains from at least two unrelated
// groups.
func Build(text string) (Plan, bool) {
	normalized := strings.ToLower(text)
	steps := make([]Step, 0, 2)
	groups := map[string]struct{}{}
	for _, domain := range domains {
		if !matchesAny(normalized, domain.Keywords) {
			continue
		}
		groups[domain.Group] = struct{}{}
		steps = append(steps, Step{
			Order:     len(steps) + 1,
			Domain:    domain.Name,
			Title:     domain.Title,
			Endpoints: rankEndpoints(normalized, domain.Endpoints),
		})
	}
	if len(groups) < minGroups {
		return Plan{}, false
	}
	return Plan{Steps: steps, Parameters: defaultParameters(normalized)}, true
}

func rankEndpoints(text string, endpoints []Endpoint) []ScoredEndpoint {
	scored := make([]ScoredEndpoint, 0, len(endpoints))
	for i, endpoint := range endpoints {
		scored = append(scored, ScoredEndpoint{Endpoint: endpoint, Score: score(text, endpoint, i)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxEndpointsPerStep {
		scored = scored[:maxEndpointsPerStep]
	}
	return scored
}

// score counts keyword and path-segment overlap. Catalog order breaks ties so
// the primary listing endpoint of a domain stays ahead of niche ones.
func score(text string, endpoint Endpoint, position int) float64 {
	total := 0.0
	for _, keyword := range endpoint.Keywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			total += 1
		}
	}
	for _, segment := range strings.Split(strings.Trim(endpoint.Path, "/"), "/") {
		if segment != "api" && len(segment) > 2 && strings.Contains(text, segment) {
			total += 0.5
		}
	}
	return total - float64(position)*0.01
}

func defaultParameters(text string) Parameters {
	params := Parameters{Page: 1, PageSize: 20, SortBy: "created_at", SortOrder: "desc"}
	switch {
	case strings.Contains(text, "本月") || strings.Contains(text, "this month"):
		params.Filters = map[string]string{"date_range": "this_month"}
	case strings.Contains(text, "本周") || strings.Contains(text, "this week"):
		params.Filters = map[string]string{"date_range": "this_week"}
	case strings.Contains(text, "今年") || strings.Contains(text, "this year"):
		params.Filters = map[string]string{"date_range": "this_year"}
	}
	return params
}

func matchesAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
