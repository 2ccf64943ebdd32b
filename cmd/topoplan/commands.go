package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/artpar/topoplan/internal/core/description"
	"github.com/artpar/topoplan/internal/shell/compiler"
	"github.com/artpar/topoplan/internal/shell/metrics"
	"github.com/artpar/topoplan/internal/shell/store"
	"github.com/artpar/topoplan/internal/shell/writer"
)

// =============================================================================
// Flags
// =============================================================================

// varFlags collects repeated -var NAME=value flags.
type varFlags map[string]string

func (v varFlags) String() string {
	pairs := make([]string, 0, len(v))
	for k, val := range v {
		pairs = append(pairs, k+"="+val)
	}
	return strings.Join(pairs, ",")
}

func (v varFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("variable %q must be NAME=value", s)
	}
	v[name] = value
	return nil
}

// loadConfig loads the config and logger for a command.
func (e *cliEnv) loadConfig(path string) (*Config, int) {
	cfg, err := LoadConfig(path)
	if err != nil {
		fmt.Fprintf(e.stderr, "configuration error: %v\n", err)
		return nil, ExitConfigError
	}
	return cfg, ExitSuccess
}

// openStore opens the configured plan store.
func openStore(cfg *Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, &CommandError{Op: "open store", Err: err, ExitCode: ExitStoreError}
	}
	return s, nil
}

// =============================================================================
// compile
// =============================================================================

func (e *cliEnv) compile(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "Path to config file")
	in := fs.String("in", "", "System description file, - for stdin")
	out := fs.String("out", "", "Output directory (default output.dir; empty prints the plan)")
	overwrite := fs.Bool("overwrite", false, "Replace an existing output directory")
	dotPath := fs.String("dot", "", "Write the application dependency graph to this DOT file")
	save := fs.Bool("save", false, "Store the plan in the plan store (default store.enabled)")
	vars := varFlags{}
	fs.Var(vars, "var", "Description variable NAME=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if *in == "" {
		fmt.Fprintln(e.stderr, "compile: -in is required")
		return ExitUsageError
	}

	cfg, code := e.loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	logger := SetupLogger(cfg, e.stderr)

	content, err := e.readInput(*in)
	if err != nil {
		logger.Error("failed to read system description", "path", *in, "error", err)
		return ExitInputError
	}

	base, err := cfg.Compile.Options()
	if err != nil {
		logger.Error("invalid compile configuration", "error", err)
		return ExitConfigError
	}

	persist := *save || cfg.Store.Enabled
	var s store.Store
	if persist {
		s, err = openStore(cfg)
		if err != nil {
			logger.Error("failed to open plan store", "dsn", cfg.Store.DSN, "error", err)
			return ExitStoreError
		}
		defer s.Close()
	}

	svc := compiler.NewService(compiler.Config{
		Base:    base,
		Store:   s,
		Metrics: metrics.NewCollector(""),
		Logger:  logger,
	})

	req := compiler.Request{
		Description: content,
		Variables:   mergeVariables(cfg.Compile, vars),
		Ports:       cfg.Compile.Ports(),
	}

	var res *compiler.Result
	if persist {
		var rec *store.PlanRecord
		rec, res, err = svc.CompileAndSave(context.Background(), req)
		if err == nil {
			fmt.Fprintln(e.stderr, "saved plan", rec.ID)
		}
	} else {
		res, err = svc.Compile(req)
	}
	if err != nil {
		fmt.Fprintf(e.stderr, "compile: %v\n", err)
		switch {
		case description.IsParseError(err):
			return ExitInputError
		case errors.Is(err, store.ErrDuplicateID), isStoreErr(err):
			return ExitStoreError
		default:
			return ExitCompileError
		}
	}

	if *dotPath != "" {
		if err := os.WriteFile(*dotPath, []byte(res.SystemDOT), 0o644); err != nil {
			logger.Error("failed to write DOT file", "path", *dotPath, "error", err)
			return ExitOutputError
		}
	}

	dir := *out
	if dir == "" {
		dir = cfg.Output.Dir
	}
	if dir == "" {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "    ")
		if err := enc.Encode(res.Plan); err != nil {
			logger.Error("failed to print plan", "error", err)
			return ExitOutputError
		}
		return ExitSuccess
	}

	files, err := writer.WritePlan(res.Plan, dir, writer.Options{
		Overwrite: *overwrite || cfg.Output.Overwrite,
		DOT:       res.AppDOT,
	})
	if err != nil {
		logger.Error("failed to write plan", "dir", dir, "error", err)
		return ExitOutputError
	}
	logger.Info("plan written", "dir", dir, "files", len(files))
	return ExitSuccess
}

func (e *cliEnv) readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(e.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	return string(data), err
}

// mergeVariables layers -var flags over the configured partition.
func mergeVariables(cfg CompileConfig, flags varFlags) map[string]string {
	vars := make(map[string]string, len(flags)+1)
	if cfg.Partition != "" {
		vars["PARTITION"] = cfg.Partition
	}
	maps.Copy(vars, flags)
	return vars
}

func isStoreErr(err error) bool {
	var storeErr *store.StoreError
	return errors.As(err, &storeErr)
}

// =============================================================================
// show
// =============================================================================

// planSummary is one line of "show" output.
type planSummary struct {
	ID          string   `json:"id"`
	Partition   string   `json:"partition"`
	Apps        []string `json:"apps"`
	Connections int      `json:"connections"`
	Warnings    int      `json:"warnings"`
	CreatedAt   string   `json:"created_at"`
}

func (e *cliEnv) show(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "Path to config file")
	id := fs.String("id", "", "Print the full plan with this ID")
	partition := fs.String("partition", "", "Only list plans of this partition")
	limit := fs.Int("limit", 20, "Maximum number of plans to list")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	cfg, code := e.loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	logger := SetupLogger(cfg, e.stderr)

	s, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open plan store", "dsn", cfg.Store.DSN, "error", err)
		return ExitStoreError
	}
	defer s.Close()

	ctx := context.Background()
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "    ")

	if *id != "" {
		rec, err := s.GetPlan(ctx, *id)
		if err != nil {
			fmt.Fprintf(e.stderr, "show: %v\n", err)
			return ExitStoreError
		}
		if err := enc.Encode(rec.Plan); err != nil {
			return ExitOutputError
		}
		return ExitSuccess
	}

	recs, err := s.ListPlans(ctx, store.ListOptions{Limit: *limit, Partition: *partition})
	if err != nil {
		fmt.Fprintf(e.stderr, "show: %v\n", err)
		return ExitStoreError
	}
	out := make([]planSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, planSummary{
			ID:          rec.ID,
			Partition:   rec.Partition,
			Apps:        rec.Plan.AppStartOrder,
			Connections: len(rec.Plan.Connections),
			Warnings:    len(rec.Plan.Warnings),
			CreatedAt:   rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	if err := enc.Encode(out); err != nil {
		return ExitOutputError
	}
	return ExitSuccess
}

// =============================================================================
// serve
// =============================================================================

func (e *cliEnv) serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	cfg, code := e.loadConfig(*configPath)
	if cfg == nil {
		return code
	}
	logger := SetupLogger(cfg, e.stderr)
	logger.Info("starting topoplan", "version", Version, "config", *configPath)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return exitCode(logger, "failed to create server", err)
	}
	if err := server.Start(context.Background()); err != nil {
		return exitCode(logger, "server error", err)
	}
	return ExitSuccess
}

// exitCode logs err and returns its exit code.
func exitCode(logger *slog.Logger, msg string, err error) int {
	var cErr *CommandError
	if errors.As(err, &cErr) {
		logger.Error(msg, "error", cErr.Err, "operation", cErr.Op)
		return cErr.ExitCode
	}
	logger.Error(msg, "error", err)
	return ExitConfigError
}
