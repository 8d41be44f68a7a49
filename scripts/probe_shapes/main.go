package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-console/internal/catalog"
	"github.com/noah-isme/sma-adp-console/internal/models"
	"github.com/noah-isme/sma-adp-console/internal/repository"
	"github.com/noah-isme/sma-adp-console/pkg/config"
	"github.com/noah-isme/sma-adp-console/pkg/database"
)

type shapeLister interface {
	ListClassroomsByShape(ctx context.Context, shape models.QueryShape, level string) ([]models.Classroom, error)
}

type probe struct {
	Level    string
	Shape    string
	Count    int
	Duration time.Duration
	Error    error
}

func main() {
	var (
		levelsFlag string
		shapesFlag string
		timeout    time.Duration
	)

	flag.StringVar(&levelsFlag, "levels", "", "Comma separated levels to probe (default: every configured level)")
	flag.StringVar(&shapesFlag, "shapes", "", "Override RESOLVER_LEVEL_SHAPES, e.g. \"secondary=/levels/{level}/sections,/secondary/classrooms\"")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Per-shape timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	levelShapes := cfg.Resolver.LevelShapes
	if shapesFlag != "" {
		levelShapes = config.ParseLevelShapes(shapesFlag)
	}
	levels := selectLevels(levelShapes, levelsFlag)
	if len(levels) == 0 {
		log.Fatalf("no levels to probe")
	}

	lister, closeFn, err := openCatalog(cfg)
	if err != nil {
		log.Fatalf("failed to open catalog: %v", err)
	}
	defer closeFn()

	var (
		results    []probe
		unanswered []string
	)
	for _, level := range levels {
		answered := false
		for _, shape := range models.ShapesFromTemplates(levelShapes[level]) {
			res := runProbe(lister, shape, level, timeout)
			if res.Error == nil {
				answered = true
			}
			results = append(results, res)
		}
		if !answered {
			unanswered = append(unanswered, level)
		}
	}

	printReport(results)

	if len(unanswered) > 0 {
		fmt.Printf("Levels with no answering shape: %s\n", strings.Join(unanswered, ", "))
		os.Exit(1)
	}
}

func openCatalog(cfg *config.Config) (shapeLister, func(), error) {
	if cfg.Catalog.Source == config.CatalogSourcePostgres {
		db, err := database.NewPostgres(context.Background(), cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewCatalogRepository(db), func() { _ = db.Close() }, nil
	}
	return catalog.NewHTTPClient(cfg.Catalog, nil, zap.NewNop()), func() {}, nil
}

func selectLevels(levelShapes map[string][]string, raw string) []string {
	var levels []string
	if raw == "" {
		for level := range levelShapes {
			levels = append(levels, level)
		}
	} else {
		for _, level := range strings.Split(raw, ",") {
			level = strings.ToLower(strings.TrimSpace(level))
			if _, ok := levelShapes[level]; ok {
				levels = append(levels, level)
			}
		}
	}
	sort.Strings(levels)
	return levels
}

func runProbe(lister shapeLister, shape models.QueryShape, level string, timeout time.Duration) probe {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	items, err := lister.ListClassroomsByShape(ctx, shape, level)
	return probe{
		Level:    level,
		Shape:    shape.Name,
		Count:    len(items),
		Duration: time.Since(start),
		Error:    err,
	}
}

func printReport(results []probe) {
	fmt.Println("Query Shape Probe Report")
	fmt.Println("========================")
	current := ""
	for _, res := range results {
		if res.Level != current {
			current = res.Level
			fmt.Printf("%s\n", current)
		}
		if res.Error != nil {
			fmt.Printf("  [FAIL] %s (%s)\n", res.Shape, res.Duration)
			fmt.Printf("    Error: %v\n", res.Error)
			continue
		}
		fmt.Printf("  [OK]   %s (%s) %d sections\n", res.Shape, res.Duration, res.Count)
	}
}
