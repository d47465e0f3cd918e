// Command dedupe runs the dedupe engine from the command line: one-shot
// pipeline runs over a source-record file, review mutations against a
// persisted store, and offline evaluation against a labeled ground-truth
// set.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/regioevents/dedupe/internal/eval"
	"github.com/regioevents/dedupe/internal/llmresolve"
	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/pipeline"
	"github.com/regioevents/dedupe/internal/review"
	"github.com/regioevents/dedupe/internal/storage"
	"github.com/regioevents/dedupe/internal/storage/memory"
	"github.com/regioevents/dedupe/internal/storage/postgres"
	"github.com/regioevents/dedupe/internal/storage/sqlite"
	"github.com/regioevents/dedupe/pkg/config"
	"github.com/regioevents/dedupe/pkg/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := telemetry.NewDefaultLogger(os.Stderr, "dedupe")
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "process-file":
		err = cmdProcessFile(ctx, log, os.Args[2:])
	case "process-all":
		err = cmdProcessAll(ctx, log, os.Args[2:])
	case "split":
		err = cmdSplit(ctx, os.Args[2:])
	case "merge":
		err = cmdMerge(ctx, os.Args[2:])
	case "dismiss":
		err = cmdDismiss(ctx, os.Args[2:])
	case "evaluate":
		err = cmdEvaluate(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "dedupe: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error(ctx, "command failed", map[string]any{"error": err.Error()})
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: dedupe <command> [flags]

commands:
  process-file   run the full pipeline over one JSON record file
  process-all    run the full pipeline over every *.json file in a directory
  split          detach a source record from a canonical event
  merge          union two canonical events' sources onto one
  dismiss        clear needs_review on a canonical event
  evaluate       score stored/replayed decisions against a ground-truth file`)
}

// ---- shared flags ----

type storeFlags struct {
	driver string
	dsn    string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.driver, "db-driver", "sqlite", "storage backend: memory, sqlite, postgres")
	fs.StringVar(&f.dsn, "db-dsn", "dedupe.db", "sqlite file path or postgres DSN")
}

// openStore opens a persistent store and ensures its schema exists. The
// memory driver is only useful within a single process invocation (review
// commands against it will find nothing from a prior process-file run).
func openStore(ctx context.Context, f storeFlags) (storage.Store, func() error, error) {
	switch f.driver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		s, err := sqlite.Open(f.dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.Open(f.dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown db-driver %q", f.driver)
	}
}

func loadConfig(configRoot string, overrides []string) (config.Config, error) {
	if configRoot == "" {
		cfg := config.Default()
		return applyOverrides(cfg, overrides)
	}
	loader, err := config.NewLoader(configRoot, config.Options{Service: "dedupe"})
	if err != nil {
		return config.Config{}, fmt.Errorf("config loader: %w", err)
	}
	bundle, err := loader.Load(context.Background())
	if err != nil {
		return config.Config{}, fmt.Errorf("config load: %w", err)
	}
	cfg, err := config.Decode(bundle.Merged)
	if err != nil {
		return config.Config{}, fmt.Errorf("config decode: %w", err)
	}
	return applyOverrides(cfg, overrides)
}

// applyOverrides applies --set key.path=value flags on top of cfg, using
// the same deterministic merge the config loader itself uses for layers.
func applyOverrides(cfg config.Config, overrides []string) (config.Config, error) {
	if len(overrides) == 0 {
		return cfg, nil
	}
	base, err := json.Marshal(cfg)
	if err != nil {
		return config.Config{}, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return config.Config{}, err
	}

	overrideMap := map[string]any{}
	for _, kv := range overrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return config.Config{}, fmt.Errorf("invalid --set %q, expected key=value", kv)
		}
		setDotted(overrideMap, strings.Split(k, "."), parseOverrideValue(v))
	}

	merged, _ := config.Merge(baseMap, overrideMap, config.MergeOptions{})
	return config.Decode(merged)
}

func setDotted(root map[string]any, segs []string, val any) {
	cur := root
	for i, s := range segs {
		if i == len(segs)-1 {
			cur[s] = val
			return
		}
		nxt, ok := cur[s].(map[string]any)
		if !ok {
			nxt = map[string]any{}
			cur[s] = nxt
		}
		cur = nxt
	}
}

func parseOverrideValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func readRecords(path string) ([]model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// ---- process-file / process-all ----

func cmdProcessFile(ctx context.Context, log *telemetry.Logger, args []string) error {
	fs := flag.NewFlagSet("process-file", flag.ExitOnError)
	var sf storeFlags
	sf.register(fs)
	configRoot := fs.String("config", "", "config root directory (layered loader); empty uses defaults")
	batchID := fs.String("batch", "cli", "batch id tagging LLM usage-log rows")
	useAI := fs.Bool("ai", false, "enable the LLM resolver (sets ai.enabled; requires --ai-base-url)")
	aiBaseURL := fs.String("ai-base-url", "", "OpenAI-compatible chat-completions base URL")
	aiAPIKey := fs.String("ai-api-key", "", "API key for the LLM resolver")
	var sets multiFlag
	fs.Var(&sets, "set", "dotted config override, e.g. --set thresholds.high=0.8 (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("process-file requires exactly one record file path")
	}

	records, err := readRecords(fs.Arg(0))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configRoot, sets)
	if err != nil {
		return err
	}
	if *useAI {
		cfg.AI.Enabled = true
	}

	store, closeStore, err := openStore(ctx, sf)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := &pipeline.Orchestrator{Store: store, Log: log}
	if cfg.AI.Enabled {
		if *aiBaseURL == "" {
			return errors.New("--ai requires --ai-base-url")
		}
		orch.LLMClient = llmresolve.NewHTTPClient(*aiBaseURL, *aiAPIKey, cfg.AI.Model, cfg.AI.Temperature, cfg.AI.MaxOutputTokens)
	}

	result, err := orch.Run(ctx, records, cfg, *batchID, time.Now().UTC())
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdProcessAll(ctx context.Context, log *telemetry.Logger, args []string) error {
	fs := flag.NewFlagSet("process-all", flag.ExitOnError)
	var sf storeFlags
	sf.register(fs)
	configRoot := fs.String("config", "", "config root directory (layered loader); empty uses defaults")
	batchID := fs.String("batch", "cli", "batch id tagging LLM usage-log rows")
	var sets multiFlag
	fs.Var(&sets, "set", "dotted config override (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("process-all requires exactly one directory path")
	}

	entries, err := os.ReadDir(fs.Arg(0))
	if err != nil {
		return err
	}
	var records []model.Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		recs, err := readRecords(fs.Arg(0) + string(os.PathSeparator) + e.Name())
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}

	cfg, err := loadConfig(*configRoot, sets)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, sf)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := &pipeline.Orchestrator{Store: store, Log: log}
	result, err := orch.Run(ctx, records, cfg, *batchID, time.Now().UTC())
	if err != nil {
		return err
	}
	return printJSON(result)
}

// ---- review commands ----

func cmdSplit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	var sf storeFlags
	sf.register(fs)
	canonicalID := fs.String("canonical", "", "canonical event id")
	sourceID := fs.String("source", "", "source event id to detach")
	target := fs.String("target", "", "existing canonical id to reattach the source to (optional)")
	operator := fs.String("operator", "", "operator identity performing the split")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *canonicalID == "" || *sourceID == "" || *operator == "" {
		return errors.New("split requires --canonical, --source, and --operator")
	}

	store, closeStore, err := openStore(ctx, sf)
	if err != nil {
		return err
	}
	defer closeStore()

	var targetPtr *string
	if *target != "" {
		targetPtr = target
	}
	if err := review.Split(ctx, store, *canonicalID, *sourceID, targetPtr, *operator, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	var sf storeFlags
	sf.register(fs)
	source := fs.String("source", "", "canonical id to merge from (will be deleted)")
	target := fs.String("target", "", "canonical id to merge into")
	operator := fs.String("operator", "", "operator identity performing the merge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" || *target == "" || *operator == "" {
		return errors.New("merge requires --source, --target, and --operator")
	}

	store, closeStore, err := openStore(ctx, sf)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := review.Merge(ctx, store, *source, *target, *operator, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdDismiss(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dismiss", flag.ExitOnError)
	var sf storeFlags
	sf.register(fs)
	canonicalID := fs.String("canonical", "", "canonical event id")
	reason := fs.String("reason", "", "optional dismissal reason")
	operator := fs.String("operator", "", "operator identity performing the dismissal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *canonicalID == "" || *operator == "" {
		return errors.New("dismiss requires --canonical and --operator")
	}

	store, closeStore, err := openStore(ctx, sf)
	if err != nil {
		return err
	}
	defer closeStore()

	var reasonPtr *string
	if *reason != "" {
		reasonPtr = reason
	}
	if err := review.Dismiss(ctx, store, *canonicalID, reasonPtr, *operator, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

// ---- evaluate ----

func cmdEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	var sf storeFlags
	sf.register(fs)
	groundTruthPath := fs.String("ground-truth", "", "path to a JSON array of GroundTruthPair")
	category := fs.String("category", "", "restrict to pairs touching this category")
	var thresholds multiFlag
	fs.Var(&thresholds, "threshold", "additional high threshold to sweep (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *groundTruthPath == "" {
		return errors.New("evaluate requires --ground-truth")
	}

	gtData, err := os.ReadFile(*groundTruthPath)
	if err != nil {
		return err
	}
	var groundTruth []model.GroundTruthPair
	if err := json.Unmarshal(gtData, &groundTruth); err != nil {
		return fmt.Errorf("decode ground truth: %w", err)
	}

	store, closeStore, err := openStore(ctx, sf)
	if err != nil {
		return err
	}
	defer closeStore()

	decisions, err := store.MatchDecisions(ctx)
	if err != nil {
		return err
	}

	if *category != "" {
		canonicals, err := store.CanonicalEvents(ctx, false)
		if err != nil {
			return err
		}
		categoriesByID := map[string]map[string]struct{}{}
		for _, c := range canonicals {
			sources, err := store.SourcesForCanonical(ctx, c.ID)
			if err != nil {
				return err
			}
			set := make(map[string]struct{}, len(c.Categories))
			for _, cat := range c.Categories {
				set[cat] = struct{}{}
			}
			for _, sourceID := range sources {
				categoriesByID[sourceID] = set
			}
		}
		decisions, groundTruth = eval.FilterByCategory(decisions, groundTruth, categoriesByID, *category)
	}

	out := map[string]any{"overall": eval.Evaluate(decisions, groundTruth)}
	if len(thresholds) > 0 {
		values := make([]float64, 0, len(thresholds))
		for _, s := range thresholds {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid --threshold %q: %w", s, err)
			}
			values = append(values, f)
		}
		out["threshold_sweep"] = eval.ThresholdSweep(decisions, groundTruth, values)
	}
	return printJSON(out)
}

// ---- helpers ----

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
