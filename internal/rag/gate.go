// Package rag implements the retrieval pipeline for the travel knowledge base:
// the retrieval gate that decides whether a query warrants a knowledge search,
// the retriever that turns search hits into a prompt context block, and the
// ingestion side (loader, splitter, batched ingestor) that feeds the index.
package rag

import (
	"strings"
	"unicode/utf8"
)

// minQueryRunes is the minimum query length for retrieval to be worthwhile.
// Anything shorter is treated as chit-chat.
const minQueryRunes = 4

// greetingPrefixes are matched against the start of the trimmed query.
var greetingPrefixes = []string{
	"你好",
	"嗨",
	"早上好",
	"晚上好",
	"谢谢",
	"再见",
	"拜拜",
	"好的",
	"明白了",
	"知道了",
}

// greetingExact are matched case-insensitively against the whole query.
var greetingExact = []string{"hi", "hello", "ok"}

// travelKeywords are activity, amenity and logistics terms that indicate a
// substantive travel question.
var travelKeywords = []string{
	"旅游",
	"旅行",
	"景点",
	"玩",
	"去",
	"推荐",
	"攻略",
	"住",
	"吃",
	"美食",
	"酒店",
	"好玩",
	"值得",
	"门票",
	"开放",
	"时间",
	"几点",
	"怎么去",
	"交通",
	"行程",
	"规划",
}

// gateCities is the shorter city list consulted by the gate.
var gateCities = []string{
	"北京",
	"上海",
	"广州",
	"深圳",
	"杭州",
	"成都",
	"重庆",
	"西安",
	"南京",
	"苏州",
	"厦门",
	"三亚",
	"大理",
	"丽江",
	"青岛",
	"桂林",
	"张家界",
	"黄山",
}

// knownCities is the fixed locality list used for city extraction.
// Order matters: ExtractCityFromQuery returns the first match in list
// order, not query order.
var knownCities = []string{
	"北京",
	"上海",
	"广州",
	"深圳",
	"杭州",
	"成都",
	"重庆",
	"西安",
	"南京",
	"苏州",
	"无锡",
	"常州",
	"厦门",
	"福州",
	"三亚",
	"海口",
	"大理",
	"丽江",
	"昆明",
	"青岛",
	"济南",
	"桂林",
	"南宁",
	"张家界",
	"长沙",
	"武汉",
	"黄山",
	"合肥",
	"天津",
	"沈阳",
	"大连",
	"哈尔滨",
	"长春",
	"郑州",
	"洛阳",
	"拉萨",
	"兰州",
	"敦煌",
	"乌鲁木齐",
	"银川",
	"西宁",
	"贵阳",
}

// ShouldRetrieve reports whether a query warrants knowledge retrieval.
//
// Policy: very short queries and greetings are rejected; queries containing
// a travel keyword or a known city are accepted; everything else is also
// accepted. A wasted search costs one round trip, a false negative costs
// grounding, so the default favors over-retrieval.
func ShouldRetrieve(query string) bool {
	if utf8.RuneCountInString(query) < minQueryRunes {
		return false
	}

	trimmed := strings.TrimSpace(query)
	for _, prefix := range greetingPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	for _, exact := range greetingExact {
		if strings.EqualFold(trimmed, exact) {
			return false
		}
	}

	for _, kw := range travelKeywords {
		if strings.Contains(query, kw) {
			return true
		}
	}
	for _, city := range gateCities {
		if strings.Contains(query, city) {
			return true
		}
	}

	return true
}

// ExtractCityFromQuery returns the first known city mentioned by the query,
// scanning the city list in list order. Returns "" when no city matches.
//
// When a query names two cities, the one earlier in the list wins even if it
// appears later in the query text. Index pre-filtering depends on this
// behavior, so it is kept as-is.
func ExtractCityFromQuery(query string) string {
	for _, city := range knownCities {
		if strings.Contains(query, city) {
			return city
		}
	}
	return ""
}
