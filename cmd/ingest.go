package cmd

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/banlv/banlv/internal/app"
	"github.com/banlv/banlv/internal/config"
	"github.com/banlv/banlv/internal/rag"
)

const defaultPOIPath = "data/poi.jsonl"

// runIngest imports POI documents into the knowledge base.
// --dry-run estimates chunk and batch counts without touching the
// database; --clear empties the index before importing.
func runIngest(args []string) error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	clearFirst := ingestFlags.Bool("clear", false, "Clear the knowledge base before importing")
	dryRun := ingestFlags.Bool("dry-run", false, "Estimate without writing")

	path := defaultPOIPath
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path = args[0]
		args = args[1:]
	}
	if err := ingestFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}

	logger := initLogger()
	start := time.Now()

	fmt.Println("知识库导入")
	fmt.Println("================")
	if *dryRun {
		fmt.Println("   模式: 模拟运行 (不写入数据库)")
	} else {
		fmt.Println("   模式: 正式导入")
	}
	fmt.Printf("   清空: %t\n", *clearFirst)
	fmt.Println()

	fmt.Println("加载 JSONL 文档...")
	docs, err := rag.LoadPOIDocuments(path, logger)
	if err != nil {
		return fmt.Errorf("loading documents: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents loaded from %s", path)
	}

	splitter := rag.NewSplitter()
	ingestor := rag.NewIngestor(nil, splitter, logger)

	fmt.Println("切分文档...")
	chunks := ingestor.SplitDocuments(docs)
	estimate := ingestor.EstimateRun(docs)
	fmt.Printf("   文档数: %d\n", len(docs))
	fmt.Printf("   块数: %d\n", len(chunks))
	if cities := rag.CityList(docs); len(cities) > 0 {
		fmt.Printf("   覆盖城市: %s\n", strings.Join(cities, "、"))
	}

	if *dryRun {
		fmt.Println()
		fmt.Println("模拟运行完成")
		fmt.Println("================")
		fmt.Printf("   预计 Embedding 批次: %d\n", estimate.EmbeddingBatches)
		fmt.Println()
		fmt.Println("使用不带 --dry-run 选项运行以实际导入")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	count, err := a.Knowledge.Count(ctx)
	if err != nil {
		return fmt.Errorf("checking knowledge base: %w", err)
	}
	if count > 0 {
		if *clearFirst {
			fmt.Println("清空现有知识库...")
			if err := a.Knowledge.Clear(ctx); err != nil {
				return fmt.Errorf("clearing knowledge base: %w", err)
			}
		} else {
			fmt.Printf("知识库已有 %d 条文档\n", count)
			fmt.Println("   使用 --clear 选项可以清空后重新导入")
			fmt.Println("   继续导入将追加到现有数据...")
			fmt.Println()
		}
	}

	fmt.Println()
	fmt.Println("向量化并存储...")
	ingestor = rag.NewIngestor(a.Knowledge, splitter, logger)
	result, err := ingestor.Ingest(ctx, chunks, func(current, total int) {
		fmt.Printf("\r   %s", formatProgress(current, total))
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("ingesting documents: %w", err)
	}

	fmt.Println()
	fmt.Println("导入完成")
	fmt.Println("================")
	fmt.Printf("   成功: %d 条\n", result.Success)
	fmt.Printf("   失败: %d 条\n", result.Failed)
	fmt.Printf("   耗时: %.1f 秒\n", time.Since(start).Seconds())

	stats, err := a.Knowledge.Stats(ctx)
	if err != nil {
		logger.Warn("failed to read final stats", "error", err)
		return nil
	}
	cities := make([]string, 0, len(stats.ByCity))
	for city := range stats.ByCity {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	fmt.Println()
	fmt.Println("知识库统计")
	fmt.Println("================")
	fmt.Printf("   总文档数: %d\n", stats.TotalDocuments)
	fmt.Printf("   城市数: %d\n", len(cities))
	if len(cities) > 0 {
		shown := cities
		suffix := ""
		if len(shown) > 10 {
			shown = shown[:10]
			suffix = "..."
		}
		fmt.Printf("   城市列表: %s%s\n", strings.Join(shown, "、"), suffix)
	}
	return nil
}

// formatProgress renders a 30 character progress bar.
func formatProgress(current, total int) string {
	const barLength = 30
	ratio := float64(current) / float64(total)
	percent := int(math.Round(ratio * 100))
	filled := int(math.Round(ratio * barLength))
	if filled > barLength {
		filled = barLength
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
	return fmt.Sprintf("[%s] %d%% (%d/%d)", bar, percent, current, total)
}
