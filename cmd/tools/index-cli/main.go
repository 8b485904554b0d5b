package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/dust-map/internal/app"
	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/indexer"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/annel0/dust-map/internal/world"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации")
		command    = flag.String("cmd", "stats", "Команда: index-area, index-chunk, index-ground, block, ground, column, range, stats")
		x          = flag.Int("x", 0, "X (центр области или координата блока)")
		y          = flag.Int("y", 0, "Y; для индексации 0 - значение из конфигурации")
		z          = flag.Int("z", 0, "Z")
		radius     = flag.Int("radius", 8, "радиус области для index-area")
		chunkX     = flag.Int("chunk-x", 0, "X чанка для index-chunk")
		chunkZ     = flag.Int("chunk-z", 0, "Z чанка для index-chunk")
		minX       = flag.Int("min-x", 0, "прямоугольник для range и index-ground")
		maxX       = flag.Int("max-x", 0, "")
		minZ       = flag.Int("min-z", 0, "")
		maxZ       = flag.Int("max-z", 0, "")
		maxY       = flag.Int("max-y", world.DefaultGroundMaxY, "верх поиска земли")
		minY       = flag.Int("min-y", world.DefaultGroundMinY, "низ поиска земли")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}
	logging.Configure(logging.Options{
		ConsoleLevel: logging.ParseLevel(cfg.Logging.GetConsoleLevel()),
		FileLevel:    logging.ERROR,
	})

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ Init: %v", err)
	}
	defer a.Close()

	// Ctrl+C останавливает прогон после текущего пакета
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indexY := *y
	if indexY == 0 {
		indexY = cfg.Indexing.GetDefaultY()
	}
	rect := storage.Rect{MinX: *minX, MaxX: *maxX, MinZ: *minZ, MaxZ: *maxZ}
	pos := vec.Vec3{X: *x, Y: *y, Z: *z}

	switch *command {
	case "index-area":
		err = a.Indexer.IndexArea(ctx, *x, *z, *radius, indexY, printProgress)
	case "index-chunk":
		err = a.Indexer.IndexChunk(ctx, *chunkX, *chunkZ, indexY, printProgress)
	case "index-ground":
		err = a.Indexer.IndexGroundLevels(ctx, rect, *maxY, *minY, printProgress)
	case "block":
		printBlock(ctx, a, pos)
	case "ground":
		g := a.Gateway.GroundLevel(ctx, *x, *z, *maxY, *minY)
		if !g.Found {
			fmt.Printf("🕳️  Земля в (%d,%d) на y=[%d,%d] не найдена\n", *x, *z, *minY, *maxY)
			break
		}
		fmt.Printf("⛰️  Земля (%d,%d): y=%d тип=%d биом=%d\n", g.X, g.Z, g.Y, g.BlockType, g.Biome)
	case "column":
		printColumn(a.Gateway.AnalyzeColumn(ctx, pos))
	case "range":
		err = printRange(ctx, a.Store, rect)
	case "stats":
		err = printStats(ctx, a.Store)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: index-area, index-chunk, index-ground, block, ground, column, range, stats")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}

	if outcome, lastErr := a.Indexer.LastOutcome(); outcome != indexer.OutcomeNone {
		p := a.Indexer.GetProgress()
		fmt.Printf("\n📊 %s: %d/%d за %s\n", outcome, p.IndexedBlocks, p.TotalBlocks, time.Since(p.StartTime).Round(time.Millisecond))
		if lastErr != nil {
			fmt.Printf("   ошибка: %v\n", lastErr)
		}
	}
}

// printProgress печатает прогресс в одну строку
func printProgress(p indexer.Progress) {
	eta := "-"
	if !p.EstimatedCompletion.IsZero() {
		eta = p.EstimatedCompletion.UTC().Format(timeFormat)
	}
	fmt.Printf("\r⏳ %d/%d  позиция %s  ETA %s   ", p.IndexedBlocks, p.TotalBlocks, p.CurrentPosition, eta)
}

func printBlock(ctx context.Context, a *app.App, pos vec.Vec3) {
	data := a.Gateway.GetBlockData(ctx, pos)
	name := "?"
	if ot, ok := a.Gateway.ObjectTypes().Lookup(data.BlockType); ok {
		name = ot.Name
	}
	fmt.Printf("🧱 %s: тип=%d (%s) биом=%d чанк=%s\n", pos, data.BlockType, name, data.Biome, pos.ToChunk())

	if b, ok, err := a.Store.GetBlock(ctx, pos); err == nil && ok {
		fmt.Printf("   в хранилище: тип=%d биом=%d от %s\n", b.BlockType, b.Biome,
			time.UnixMilli(b.Timestamp).UTC().Format(timeFormat))
	}
}

func printColumn(c world.ColumnAnalysis) {
	fmt.Printf("🔎 %s: под ногами тип=%d\n", c.Position, c.BlockBelow)
	if c.DistanceToCave != nil {
		fmt.Printf("   полость ниже через %d\n", *c.DistanceToCave)
	} else {
		fmt.Println("   полость ниже не найдена")
	}
	if c.DistanceToSurface != nil {
		fmt.Printf("   выход вверх через %d\n", *c.DistanceToSurface)
	} else {
		fmt.Println("   выход вверх не найден")
	}
}

func printRange(ctx context.Context, store storage.BlockStore, r storage.Rect) error {
	blocks, err := store.GetBlocksInRange(ctx, r)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		fmt.Printf("(%d,%d,%d) тип=%d биом=%d\n", b.X, b.Y, b.Z, b.BlockType, b.Biome)
	}
	fmt.Printf("\n📊 Total blocks: %d\n", len(blocks))
	return nil
}

func printStats(ctx context.Context, store storage.BlockStore) error {
	s, err := store.GetBlockStatistics(ctx)
	if err != nil {
		return err
	}
	fmt.Println("📊 Block statistics")
	fmt.Printf("Total: %d\n", s.TotalBlocks)
	fmt.Printf("  solid: %d\n", s.SolidBlocks)
	fmt.Printf("  air:   %d\n", s.AirBlocks)
	return nil
}
