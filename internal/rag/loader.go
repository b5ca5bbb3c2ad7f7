package rag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banlv/banlv/internal/knowledge"
)

// POI is one point-of-interest record, one JSON object per line in the
// knowledge source file.
type POI struct {
	Name        string   `json:"name"`
	City        string   `json:"city"`
	Intro       string   `json:"intro"`
	Tags        []string `json:"tags,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"reviewCount,omitempty"`
	PlayTime    string   `json:"playTime,omitempty"`
	OpenTime    string   `json:"openTime,omitempty"`
	TopComments []string `json:"topComments,omitempty"`
}

// POIDocument is a loaded record: canonical text block plus index metadata.
type POIDocument struct {
	Content  string
	Metadata knowledge.Metadata
}

// FormatPOIContent renders a POI as the canonical markdown block that gets
// chunked and embedded: title, attribute list, free-text introduction, and
// top reviews.
func FormatPOIContent(poi POI) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("# %s（%s）", poi.Name, poi.City), "")

	lines = append(lines, "## 基本信息")
	if len(poi.Tags) > 0 {
		lines = append(lines, "- 标签："+strings.Join(poi.Tags, "、"))
	}
	if poi.Rating > 0 {
		reviewInfo := ""
		if poi.ReviewCount > 0 {
			reviewInfo = fmt.Sprintf("（%d 条评论）", poi.ReviewCount)
		}
		lines = append(lines, fmt.Sprintf("- 评分：%s 分%s",
			strconv.FormatFloat(poi.Rating, 'f', -1, 64), reviewInfo))
	}
	if poi.PlayTime != "" {
		lines = append(lines, "- 建议游玩时长："+poi.PlayTime)
	}
	if poi.OpenTime != "" {
		lines = append(lines, "- 开放时间："+poi.OpenTime)
	}
	lines = append(lines, "")

	if poi.Intro != "" {
		lines = append(lines, "## 景点介绍", poi.Intro, "")
	}

	if len(poi.TopComments) > 0 {
		lines = append(lines, "## 游客评价")
		for i, comment := range poi.TopComments {
			lines = append(lines, comment)
			if i < len(poi.TopComments)-1 {
				lines = append(lines, "---")
			}
		}
	}

	return strings.Join(lines, "\n")
}

// ExtractMetadata builds index metadata for a POI.
func ExtractMetadata(poi POI) knowledge.Metadata {
	tags := poi.Tags
	if tags == nil {
		tags = []string{}
	}
	return knowledge.Metadata{
		Name:        poi.Name,
		City:        poi.City,
		Type:        "poi",
		Rating:      poi.Rating,
		ReviewCount: poi.ReviewCount,
		Tags:        tags,
		PlayTime:    poi.PlayTime,
		OpenTime:    poi.OpenTime,
	}
}

// LoadPOIDocuments reads a JSONL file of POI records. Lines that fail to
// parse or lack required fields (name, city, intro) are skipped and
// counted, not fatal.
func LoadPOIDocuments(path string, logger *slog.Logger) ([]POIDocument, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// POI records with long intros and reviews exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var docs []POIDocument
	var skipped int
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var poi POI
		if err := json.Unmarshal([]byte(line), &poi); err != nil {
			logger.Warn("skipping malformed knowledge record",
				"line", lineNo, "error", err)
			skipped++
			continue
		}
		if poi.Name == "" || poi.City == "" || poi.Intro == "" {
			logger.Warn("skipping incomplete knowledge record",
				"line", lineNo, "name", poi.Name, "city", poi.City)
			skipped++
			continue
		}

		docs = append(docs, POIDocument{
			Content:  FormatPOIContent(poi),
			Metadata: ExtractMetadata(poi),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading knowledge file: %w", err)
	}

	logger.Info("loaded knowledge records",
		"loaded", len(docs), "skipped", skipped)

	return docs, nil
}

// CityList returns the sorted set of cities present in the documents.
func CityList(docs []POIDocument) []string {
	seen := make(map[string]struct{})
	for _, d := range docs {
		if d.Metadata.City != "" {
			seen[d.Metadata.City] = struct{}{}
		}
	}
	cities := make([]string, 0, len(seen))
	for c := range seen {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return cities
}
