package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/ReverseMapper/internal/chart"
	"github.com/himanishpuri/ReverseMapper/internal/config"
	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/snap"
	"github.com/himanishpuri/ReverseMapper/internal/timeline"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
	"github.com/himanishpuri/ReverseMapper/pkg/reversemapper"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	dbPath     string
	outDir     string
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.configPath, "config", getEnvOrDefault("REVMAP_CONFIG", config.DefaultFile), "Settings file (env: REVMAP_CONFIG)")
	fs.StringVar(&g.dbPath, "db", os.Getenv("REVMAP_DB_PATH"), "History database (env: REVMAP_DB_PATH, default from settings)")
	fs.StringVar(&g.outDir, "out", os.Getenv("REVMAP_OUT_DIR"), "Output directory (env: REVMAP_OUT_DIR, default from settings)")
	return g
}

func (g *globalFlags) load() *config.Bootstrap {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		fail("Failed to load settings", err)
	}
	if g.dbPath != "" {
		cfg.Storage.DBPath = g.dbPath
	}
	if g.outDir != "" {
		cfg.Storage.OutDir = g.outDir
	}
	if lvl, ok := logger.ParseLevel(cfg.Log.Level); ok && os.Getenv("REVMAP_LOG_LEVEL") == "" {
		logger.SetLevel(lvl)
	}
	return cfg
}

// createService creates the service with the loaded settings.
func createService(cfg *config.Bootstrap) reversemapper.Service {
	settings, err := cfg.Session()
	if err != nil {
		fail("Invalid settings", err)
	}
	svc, err := reversemapper.NewService(
		reversemapper.WithDBPath(cfg.Storage.DBPath),
		reversemapper.WithOutDir(cfg.Storage.OutDir),
		reversemapper.WithSettings(settings),
	)
	if err != nil {
		fail("Failed to create service", err)
	}
	return svc
}

// os.Exit skips deferred calls, so cleanup that must also run when a
// command fails is registered with atExit instead.
var (
	exit     = os.Exit
	cleanups []func()
)

func atExit(fn func()) { cleanups = append(cleanups, fn) }

// runCleanups calls the registered functions, last registered first.
func runCleanups() {
	for len(cleanups) > 0 {
		fn := cleanups[len(cleanups)-1]
		cleanups = cleanups[:len(cleanups)-1]
		fn()
	}
}

func fail(what string, err error) {
	fmt.Printf("❌ %s: %v\n", what, err)
	logger.Errorf("%s: %v", what, err)
	runCleanups()
	exit(1)
}

func main() {
	log := logger.GetLogger()
	defer runCleanups()

	if len(os.Args) < 2 {
		printBanner()
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "generate":
		handleGenerate(os.Args[2:])
	case "info":
		handleInfo(os.Args[2:])
	case "snap":
		handleSnap(os.Args[2:])
	case "inspect":
		handleInspect(os.Args[2:])
	case "history":
		handleHistory(os.Args[2:])
	case "delete":
		handleDelete(os.Args[2:])
	case "init":
		handleInit(os.Args[2:])
	case "help", "-h", "--help":
		printBanner()
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
 ___                          __  __
| _ \_____ _____ _ _ ___ ___ |  \/  |__ _ _ __ _ __  ___ _ _
|   / -_) V / -_) '_(_-</ -_)| |\/| / _' | '_ \ '_ \/ -_) '_|
|_|_\___|\_/\___|_| /__/\___||_|  |_\__,_| .__/ .__/\___|_|
                                         |_|  |_|
        Capture-driven chart and replay generator
`
	fmt.Println(banner)
}

// splitArgs separates leading positional arguments from flags so that
// "cmd file --flag v" works with the flag package.
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func handleGenerate(args []string) {
	positional, flagArgs := splitArgs(args)

	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	g := addGlobalFlags(fs)
	capturePath := fs.String("capture", "", "Capture file (JSON ticks and presses, required)")
	mods := fs.String("mods", "", "Mods acronyms, e.g. HDDT (overrides settings)")
	seed := fs.Int("seed", 0, "Replay seed (0 keeps the settings value)")
	sub := fs.Int("sub", 0, "Beat subdivision (0 keeps the settings value)")
	displace := fs.Bool("displace", false, "Push notes away from the playfield center")
	fs.Parse(flagArgs)

	if len(positional) != 1 || *capturePath == "" {
		fmt.Println("Usage: reversemapper generate <archive.osz|chart.osu> --capture <capture.json>")
		os.Exit(1)
	}

	cfg := g.load()
	if *mods != "" {
		cfg.Replay.Mods = *mods
	}
	if *seed != 0 {
		cfg.Replay.Seed = int32(*seed)
	}
	if *sub != 0 {
		cfg.Capture.Subdivision = *sub
	}
	if *displace {
		cfg.Placement.Displace = true
	}

	capture, err := readCapture(*capturePath)
	if err != nil {
		fail("Failed to read capture", err)
	}

	fmt.Println("\n🔧 Initializing service...")
	svc := createService(cfg)
	atExit(func() { svc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	atExit(cancel)

	project := loadProject(ctx, svc, positional[0])
	fmt.Printf("🎵 %s - %s [%s]\n", project.Info.Artist, project.Info.Title, project.Info.Version)

	c, err := svc.StartSession(project, nil, nil)
	if err != nil {
		fail("Failed to start session", err)
	}

	fmt.Printf("🎯 Replaying %d ticks and %d presses...\n", len(capture.Ticks), len(capture.Presses))
	unbound, err := replayCapture(c.Session, capture)
	if err != nil {
		fail("Capture rejected", err)
	}
	if unbound > 0 {
		fmt.Printf("   ⚠️  %d press(es) on unbound keys skipped\n", unbound)
	}
	st := c.Session.Stats()
	if st.Ignored > 0 {
		fmt.Printf("   ⚠️  %d press(es) outside the playfield ignored\n", st.Ignored)
	}

	out, err := svc.Finalize(ctx, c.ID)
	if err != nil {
		fail("Failed to generate", err)
	}

	res := out.Result
	fmt.Println("\n✅ Generated chart and replay!")
	fmt.Printf("   Notes:   %d", len(res.Objects))
	if res.Dropped > 0 {
		fmt.Printf(" (%d dropped outside the playfield)", res.Dropped)
	}
	fmt.Println()
	fmt.Printf("   Frames:  %d over %s\n", res.Timeline.Len(), formatMs(res.Timeline.Duration()))
	fmt.Printf("   Mods:    %s | Seed: %d\n", out.Generation.Mods, res.Seed)
	if out.Generation.ArchivePath != "" {
		fmt.Printf("   Chart:   %s\n", out.Generation.ArchivePath)
		fmt.Printf("   Replay:  %s (%s)\n", out.Generation.ReplayPath, humanize.Bytes(uint64(len(res.Replay))))
	}
	if out.Generation.ID != "" {
		fmt.Printf("   History: %s\n", out.Generation.ID)
	}
}

func loadProject(ctx context.Context, svc reversemapper.Service, path string) *reversemapper.Project {
	if strings.EqualFold(filepath.Ext(path), ".osu") {
		data, err := os.ReadFile(path)
		if err != nil {
			fail("Failed to read chart", err)
		}
		p, err := svc.LoadChart(string(data))
		if err != nil {
			fail("Failed to load chart", err)
		}
		return p
	}
	p, err := svc.LoadArchiveFile(ctx, path)
	if err != nil {
		fail("Failed to load archive", err)
	}
	return p
}

func handleInfo(args []string) {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Println("Usage: reversemapper info <archive.osz|chart.osu>")
		os.Exit(1)
	}

	cfg := g.load()
	settings, err := cfg.Session()
	if err != nil {
		fail("Invalid settings", err)
	}
	svc, err := reversemapper.NewService(
		reversemapper.WithoutHistory(),
		reversemapper.WithOutDir(""),
		reversemapper.WithSettings(settings),
	)
	if err != nil {
		fail("Failed to create service", err)
	}
	atExit(func() { svc.Close() })

	p := loadProject(context.Background(), svc, positional[0])
	info := p.Info
	fmt.Printf("\n🎵 %s - %s [%s]\n", info.Artist, info.Title, info.Version)
	if p.ChartName != "" {
		fmt.Printf("   Chart:       %s\n", p.ChartName)
	}
	fmt.Printf("   Audio:       %s", info.AudioFilename)
	if p.Audio != nil {
		fmt.Printf(" (%s, %s, %d Hz)", info.AudioFormat, formatMs(info.DurationMs), p.Audio.SampleRate)
	}
	fmt.Println()
	if info.Background != "" {
		fmt.Printf("   Background:  %s\n", info.Background)
	}
	fmt.Printf("   Tempo:       %d point(s), %.0f BPM stream at 1/%d\n", info.TempoPoints, info.StreamBPM, cfg.Capture.Subdivision)
	fmt.Printf("   Hit objects: %d\n", info.HitObjects)
	fmt.Printf("   Difficulty:  CS %g | AR %g | OD %g | HP %g\n", info.CircleSize, info.ApproachRate, info.OverallDifficulty, info.HPDrainRate)
}

func handleSnap(args []string) {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("snap", flag.ExitOnError)
	sub := fs.Int("sub", snap.DefaultSubdivision, "Beat subdivision")
	fs.Parse(flagArgs)

	if len(positional) < 2 {
		fmt.Println("Usage: reversemapper snap <chart.osu> <ms>... [--sub 4]")
		os.Exit(1)
	}

	data, err := os.ReadFile(positional[0])
	if err != nil {
		fail("Failed to read chart", err)
	}
	grid := snap.FromChart(chart.Parse(string(data)), *sub)
	if len(grid.Points()) == 0 {
		fmt.Println("⚠️  No tempo points; times pass through rounded")
	}

	for _, arg := range positional[1:] {
		t, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			fmt.Printf("   %s: not a time\n", arg)
			continue
		}
		fmt.Printf("   %10.2f -> %d (grid %.2fms)\n", t, grid.Snap(t), grid.GridStep(t))
	}
}

func handleInspect(args []string) {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	frames := fs.Int("frames", 0, "Print the first N frames")
	fs.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Println("Usage: reversemapper inspect <replay.osr> [--frames N]")
		os.Exit(1)
	}

	data, err := os.ReadFile(positional[0])
	if err != nil {
		fail("Failed to read replay", err)
	}
	rep, err := replay.Decode(data)
	if err != nil {
		fail("Invalid replay", err)
	}
	samples, seed, err := rep.Frames()
	if err != nil {
		fail("Invalid replay payload", err)
	}

	// Client replays open with a frame or two of negative delta.
	kept := samples[:0:0]
	skipped := 0
	for _, s := range samples {
		if s.DeltaMs < 0 {
			skipped++
			continue
		}
		kept = append(kept, s)
	}
	tl, err := timeline.FromSamples(kept)
	if err != nil {
		fail("Invalid replay frames", err)
	}

	h := rep.Header
	fmt.Printf("\n🎬 Replay %s (%s)\n", positional[0], humanize.Bytes(uint64(len(data))))
	fmt.Printf("   Version:   %d | Mode: %d\n", h.Version, h.Mode)
	fmt.Printf("   Chart:     %s\n", h.ChartHash)
	fmt.Printf("   Player:    %s\n", h.Performer)
	fmt.Printf("   Hits:      %d | Max combo: %d | Score: %s\n", h.Count300, h.MaxCombo, humanize.Comma(int64(h.Score)))
	fmt.Printf("   Mods:      %s\n", h.Mods)
	fmt.Printf("   Played:    %s (%s)\n", rep.PlayedAt().Format(time.RFC3339), humanize.Time(rep.PlayedAt()))
	fmt.Printf("   Frames:    %d (%d pressed) over %s, seed %d\n", tl.Len(), len(tl.Pressed()), formatMs(tl.Duration()), seed)
	fmt.Printf("   Payload:   %s compressed\n", humanize.Bytes(uint64(len(rep.Payload))))
	if skipped > 0 {
		fmt.Printf("   Skipped:   %d frame(s) with negative delta\n", skipped)
	}
	if len(rep.Extra) > 0 {
		fmt.Printf("   Trailing:  %s after score id\n", humanize.Bytes(uint64(len(rep.Extra))))
	}

	if *frames > 0 {
		fmt.Println()
		var acc int64
		for i, s := range samples {
			if i >= *frames {
				fmt.Printf("   ... %d more\n", len(samples)-i)
				break
			}
			acc += s.DeltaMs
			fmt.Printf("   %6d ms  +%-4d  (%.0f, %.0f)  %d\n", acc, s.DeltaMs, s.X, s.Y, s.Buttons)
		}
	}
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	g := addGlobalFlags(fs)
	limit := fs.Int("limit", 20, "Number of entries to show (0 for all)")
	hash := fs.String("hash", "", "Only show generations of this chart hash")
	fs.Parse(args)

	svc := createService(g.load())
	atExit(func() { svc.Close() })

	var gens []models.Generation
	var err error
	if *hash != "" {
		gens, err = svc.FindByChartHash(*hash)
	} else {
		gens, err = svc.History(*limit)
	}
	if err != nil {
		fail("Failed to list history", err)
	}
	if len(gens) == 0 {
		fmt.Println("\n📭 Nothing generated yet")
		return
	}

	total, err := svc.HistoryCount()
	if err != nil {
		fail("Failed to count history", err)
	}
	fmt.Printf("\n📚 %d of %s generation(s):\n\n", len(gens), humanize.Comma(total))
	for i, gen := range gens {
		fmt.Printf("%d. %s - %s [%s] (%s)\n", i+1, gen.Artist, gen.Title, gen.Version, humanize.Time(gen.CreatedAt))
		fmt.Printf("   ID: %s\n", gen.ID)
		fmt.Printf("   Notes: %d | Mods: %s | Seed: %d | Replay: %s\n", gen.Notes, gen.Mods, gen.Seed, humanize.Bytes(uint64(gen.ReplaySize)))
		if gen.ArchivePath != "" {
			fmt.Printf("   Files: %s, %s\n", gen.ArchivePath, gen.ReplayPath)
		}
		fmt.Println()
	}
}

func handleDelete(args []string) {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	g := addGlobalFlags(fs)
	files := fs.Bool("files", false, "Also remove the generated files")
	fs.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Println("Usage: reversemapper delete <generation_id> [--files]")
		os.Exit(1)
	}

	svc := createService(g.load())
	atExit(func() { svc.Close() })

	gen, err := svc.GetGeneration(positional[0])
	if err != nil {
		fail("Generation not found", err)
	}
	if err := svc.DeleteGeneration(gen.ID, *files); err != nil {
		fail("Failed to delete generation", err)
	}

	fmt.Printf("\n✅ Deleted generation:\n")
	fmt.Printf("   ID:    %s\n", gen.ID)
	fmt.Printf("   Chart: %s - %s\n", gen.Artist, gen.Title)
	if *files {
		fmt.Println("   Files removed")
	}
}

func handleInit(args []string) {
	path := config.DefaultFile
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("❌ %s already exists\n", path)
		os.Exit(1)
	}
	if err := config.Default().Save(path); err != nil {
		fail("Failed to write settings", err)
	}
	fmt.Printf("✅ Wrote default settings to %s\n", path)
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d.%03d", int(d.Minutes()), int(d.Seconds())%60, ms%1000)
}

func printUsage() {
	fmt.Println("ReverseMapper - capture-driven chart and replay generator")
	fmt.Println("\nGlobal Options (any command that uses settings):")
	fmt.Println("  --config <path>    Settings file (env: REVMAP_CONFIG, default: reversemapper.toml)")
	fmt.Println("  --db <path>        History database (env: REVMAP_DB_PATH)")
	fmt.Println("  --out <dir>        Output directory (env: REVMAP_OUT_DIR)")
	fmt.Println("\nUsage:")
	fmt.Println("  reversemapper generate <archive.osz|chart.osu> --capture <capture.json> [--mods HDDT] [--seed N] [--sub 4] [--displace]")
	fmt.Println("  reversemapper info <archive.osz|chart.osu>")
	fmt.Println("  reversemapper snap <chart.osu> <ms>... [--sub 4]")
	fmt.Println("  reversemapper inspect <replay.osr> [--frames N]")
	fmt.Println("  reversemapper history [--limit 20] [--hash <chart md5>]")
	fmt.Println("  reversemapper delete <generation_id> [--files]")
	fmt.Println("  reversemapper init [path]")
	fmt.Println("\nLog level: REVMAP_LOG_LEVEL or LOG_LEVEL (DEBUG, INFO, WARN, ERROR)")
}
