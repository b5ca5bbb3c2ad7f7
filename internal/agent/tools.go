package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/banlv/banlv/internal/rag"
)

// toolDisplayNames maps tool names to the labels shown in the
// conversation UI while a call is in flight. Unknown tools fall back
// to their raw name.
var toolDisplayNames = map[string]string{
	// Local tools
	"get_current_date": "获取当前日期",
	"search_knowledge": "检索旅行知识库",

	// Amap
	"amap_weather":    "查询天气",
	"amap_poi_search": "搜索地点",
	"amap_geocode":    "地理编码",
	"amap_direction":  "路线规划",

	// Variflight
	"variflight_search_flights_by_dep_arr":     "查询航班（按起降地）",
	"variflight_search_flights_by_number":      "查询航班（按航班号）",
	"variflight_get_flight_transfer_info":      "查询中转航班",
	"variflight_flight_happiness_index":        "航班舒适度",
	"variflight_get_realtime_location_by_anum": "飞机实时位置",
	"variflight_get_future_weather_by_airport": "机场天气预报",

	// 12306
	"train_search_tickets": "查询火车票",
	"train_filter_trains":  "过滤列车信息",
	"train_query_station":  "过站查询",
	"train_query_transfer": "中转查询",
}

// ToolDisplayName resolves the user-facing label for a tool.
func ToolDisplayName(name string) string {
	if display, ok := toolDisplayNames[name]; ok {
		return display
	}
	return name
}

type currentDateInput struct{}

var beijingTime = time.FixedZone("CST", 8*60*60)

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "星期日",
	time.Monday:    "星期一",
	time.Tuesday:   "星期二",
	time.Wednesday: "星期三",
	time.Thursday:  "星期四",
	time.Friday:    "星期五",
	time.Saturday:  "星期六",
}

func formatCurrentDate(now time.Time) string {
	now = now.In(beijingTime)
	return fmt.Sprintf("当前是 %d年%d月%d日 %s，北京时间 %02d:%02d",
		now.Year(), int(now.Month()), now.Day(),
		weekdayNames[now.Weekday()], now.Hour(), now.Minute())
}

// RegisterLocalTools defines the built-in tools on the Genkit registry
// and returns them for the agent's capability set.
func RegisterLocalTools(g *genkit.Genkit) []ai.Tool {
	currentDate := genkit.DefineTool(g, "get_current_date",
		"获取当前日期和时间。当用户询问今天日期、现在时间、或需要知道当前时间来回答问题时使用此工具。",
		func(ctx *ai.ToolContext, _ currentDateInput) (string, error) {
			return formatCurrentDate(time.Now()), nil
		})

	return []ai.Tool{currentDate}
}

// knowledgeSearchInput is the input schema for the search_knowledge tool.
type knowledgeSearchInput struct {
	Query string `json:"query" jsonschema:"旅行相关的查询内容，使用自然语言"`
	City  string `json:"city,omitempty" jsonschema:"可选的城市名，用于限定检索范围"`
}

// RegisterKnowledgeTool exposes the knowledge base as a model-callable
// tool, so the model can retrieve again mid-turn beyond the automatic
// pre-retrieval.
func RegisterKnowledgeTool(g *genkit.Genkit, retriever KnowledgeRetriever) ai.Tool {
	return genkit.DefineTool(g, "search_knowledge",
		"检索旅行知识库，获取景点、美食、行程等参考资料。当需要具体的旅行信息来回答问题时使用此工具。",
		func(ctx *ai.ToolContext, in knowledgeSearchInput) (string, error) {
			rc := retriever.Retrieve(ctx, in.Query, rag.Options{City: in.City})
			return rc.FormattedContext, nil
		})
}

// ToolRunner executes a named tool with raw input. It is the agent's
// view of the capability set; *genkit implementations resolve tools
// from the registry.
type ToolRunner interface {
	Run(ctx context.Context, name string, input any) (any, error)
}

// genkitToolRunner resolves tools from a Genkit registry at call time,
// so MCP tools registered after startup are still reachable.
type genkitToolRunner struct {
	g *genkit.Genkit
}

func (r genkitToolRunner) Run(ctx context.Context, name string, input any) (any, error) {
	tool := genkit.LookupTool(r.g, name)
	if tool == nil {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return tool.RunRaw(ctx, input)
}
