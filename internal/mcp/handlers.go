package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/dataset"
	"github.com/nvandessel/funnelsim/internal/experiment"
	"github.com/nvandessel/funnelsim/internal/pathutil"
	"github.com/nvandessel/funnelsim/internal/ranking"
	"github.com/nvandessel/funnelsim/internal/ratelimit"
	"github.com/nvandessel/funnelsim/internal/report"
	"github.com/nvandessel/funnelsim/internal/store"
)

// maxToolWork bounds users*steps*items*trials, the number of generated
// candidates, for a single tool-initiated run.
const maxToolWork = 50_000_000

const (
	defaultHistoryLimit = 20
	recentRunsURI       = "funnelsim://runs/recent"
)

// registerTools registers all funnelsim MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "funnelsim_run",
		Description: "Run a funnel experiment with the given policy parameters and store the result",
	}, s.handleRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "funnelsim_compare",
		Description: "Run the baseline (lambda 0) and proposed policy on identical data and report per-stage ratios",
	}, s.handleCompare)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "funnelsim_score",
		Description: "Compute the propensity score and one-conversion delta for a user state",
	}, s.handleScore)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "funnelsim_history",
		Description: "List stored runs, or show one run with its per-trial counters",
	}, s.handleHistory)

	return nil
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() error {
	s.server.AddResource(&sdk.Resource{
		URI:         recentRunsURI,
		Name:        "funnelsim-recent-runs",
		Description: "The most recent stored experiment runs with their per-stage means.",
		MIMEType:    "text/markdown",
	}, s.handleRecentRunsResource)
	return nil
}

// handleRecentRunsResource renders recent runs as a markdown table.
func (s *Server) handleRecentRunsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	runs, err := s.store.ListRuns(ctx, store.RunFilter{Limit: defaultHistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Recent funnelsim runs\n\n")
	if len(runs) == 0 {
		sb.WriteString("No runs stored yet. Start one with `funnelsim_run`.\n")
	} else {
		sb.WriteString("| run | policy | lambda | decay | trials | stage1 | stage2 | stage3 |\n")
		sb.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, r := range runs {
			agg := r.Aggregate
			fmt.Fprintf(&sb, "| %s | %s | %s | %t | %d | %.3f | %.3f | %.3f |\n",
				shortRunID(r.ID), r.Policy, report.FormatLambda(agg.Lambda), agg.DecayEnabled, agg.Trials,
				agg.Mean.Stage1, agg.Mean.Stage2, agg.Mean.Stage3)
		}
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      recentRunsURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// deref returns *p, or nil so the audit sanitizer can skip unset arguments.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func runParams(args RunInput) map[string]any {
	params := map[string]any{
		"lambda": deref(args.Lambda), "decay": deref(args.Decay),
		"users": deref(args.Users), "items": deref(args.Items), "top_k": deref(args.TopK),
		"steps": deref(args.Steps), "trials": deref(args.Trials), "seed": deref(args.Seed),
	}
	if args.Source != "" {
		params["source"] = args.Source
	}
	if args.DataDir != "" {
		params["data_dir"] = args.DataDir
	}
	return params
}

// buildConfig applies tool arguments to the server defaults. Tool runs use
// generated data unless the caller selects csv; csv directories must stay
// inside the allowed directories.
func (s *Server) buildConfig(args RunInput) (config.Config, error) {
	cfg := s.defaults
	e := &cfg.Experiment

	if args.Lambda != nil {
		e.Lambda = *args.Lambda
	}
	if args.Decay != nil {
		e.DecayEnabled = *args.Decay
	}
	if args.Users != nil {
		e.Users = *args.Users
	}
	if args.Items != nil {
		e.Items = *args.Items
	}
	if args.TopK != nil {
		e.TopK = *args.TopK
	}
	if args.Steps != nil {
		e.Steps = *args.Steps
	}
	if args.Trials != nil {
		e.Trials = *args.Trials
	}
	if args.Seed != nil {
		e.Seed = *args.Seed
	}

	cfg.Data.Source = dataset.SourceGenerated
	if args.Source != "" {
		cfg.Data.Source = args.Source
	}
	if cfg.Data.Source == dataset.SourceCSV {
		dir := cfg.Data.Dir
		if args.DataDir != "" {
			dir = args.DataDir
		}
		resolved, err := pathutil.Resolve(dir, s.root, s.allowedDirs)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Data.Dir = resolved
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if work, ok := toolWork(e.Users, e.Steps, e.Items, e.Trials); !ok {
		return config.Config{}, &config.ConfigurationError{
			Field:  "experiment",
			Reason: fmt.Sprintf("users*steps*items*trials = %d exceeds the tool limit of %d; use the CLI for large runs", work, maxToolWork),
		}
	}
	return cfg, nil
}

// toolWork multiplies the dimensions and reports whether the product stays
// within maxToolWork. Multiplication stops at the first factor past the
// limit, so the product cannot overflow.
func toolWork(dims ...int) (int64, bool) {
	work := int64(1)
	for _, d := range dims {
		work *= int64(d)
		if work > maxToolWork {
			return work, false
		}
	}
	return work, true
}

// execute runs one experiment and stores it.
func (s *Server) execute(ctx context.Context, cfg config.Config) (store.Run, error) {
	loader, err := dataset.NewLoader(cfg.Experiment, cfg.Data)
	if err != nil {
		return store.Run{}, err
	}

	runner, err := experiment.NewRunner(cfg.Experiment, loader,
		experiment.WithLogger(s.logger),
		experiment.WithMetrics(s.metrics))
	if err != nil {
		return store.Run{}, err
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return store.Run{}, err
	}

	run := store.NewRun(res, cfg.Experiment, time.Now().UTC(), "")
	if err := s.store.SaveRun(ctx, run, res.Trials); err != nil {
		return store.Run{}, fmt.Errorf("failed to save run: %w", err)
	}
	return run, nil
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		Policy:     r.Policy,
		Lambda:     r.Aggregate.Lambda,
		Decay:      r.Aggregate.DecayEnabled,
		Trials:     r.Aggregate.Trials,
		Mean:       r.Aggregate.Mean,
		StdDev:     r.Aggregate.StdDev,
		DurationMs: r.Aggregate.Duration.Milliseconds(),
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// handleRun implements the funnelsim_run tool.
func (s *Server) handleRun(ctx context.Context, req *sdk.CallToolRequest, args RunInput) (_ *sdk.CallToolResult, _ RunOutput, retErr error) {
	start := time.Now()
	var runID string
	defer func() {
		s.auditTool("funnelsim_run", start, retErr, runID, sanitizeToolParams(runParams(args)))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "funnelsim_run"); err != nil {
		return nil, RunOutput{}, err
	}

	cfg, err := s.buildConfig(args)
	if err != nil {
		return nil, RunOutput{}, err
	}

	run, err := s.execute(ctx, cfg)
	if err != nil {
		return nil, RunOutput{}, err
	}
	runID = run.ID

	sum := summarize(run)
	return nil, RunOutput{
		Run: sum,
		Message: fmt.Sprintf("Run %s (%s, lambda=%s, decay=%t): mean stage counts %.3f / %.3f / %.3f over %d trials",
			shortRunID(run.ID), sum.Policy, report.FormatLambda(sum.Lambda), sum.Decay,
			sum.Mean.Stage1, sum.Mean.Stage2, sum.Mean.Stage3, sum.Trials),
	}, nil
}

// handleCompare implements the funnelsim_compare tool.
func (s *Server) handleCompare(ctx context.Context, req *sdk.CallToolRequest, args CompareInput) (_ *sdk.CallToolResult, _ CompareOutput, retErr error) {
	start := time.Now()
	var runID string
	defer func() {
		s.auditTool("funnelsim_compare", start, retErr, runID, sanitizeToolParams(runParams(args)))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "funnelsim_compare"); err != nil {
		return nil, CompareOutput{}, err
	}

	proposedCfg, err := s.buildConfig(args)
	if err != nil {
		return nil, CompareOutput{}, err
	}
	if proposedCfg.Experiment.Lambda == 0 {
		return nil, CompareOutput{}, fmt.Errorf("compare needs a nonzero lambda for the proposed policy")
	}
	baselineCfg := proposedCfg
	baselineCfg.Experiment.Lambda = 0

	baseline, err := s.execute(ctx, baselineCfg)
	if err != nil {
		return nil, CompareOutput{}, fmt.Errorf("baseline run: %w", err)
	}
	proposed, err := s.execute(ctx, proposedCfg)
	if err != nil {
		return nil, CompareOutput{}, fmt.Errorf("proposed run: %w", err)
	}
	runID = proposed.ID

	ratios := report.Compare(baseline.Aggregate.Mean, proposed.Aggregate.Mean)
	return nil, CompareOutput{
		Baseline: summarize(baseline),
		Proposed: summarize(proposed),
		Ratios:   ratios,
		Message: fmt.Sprintf("lambda=%s vs baseline: stage ratios %.3f / %.3f / %.3f",
			report.FormatLambda(proposedCfg.Experiment.Lambda), ratios.Stage1, ratios.Stage2, ratios.Stage3),
	}, nil
}

// handleScore implements the funnelsim_score tool.
func (s *Server) handleScore(ctx context.Context, req *sdk.CallToolRequest, args ScoreInput) (_ *sdk.CallToolResult, _ ScoreOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("funnelsim_score", start, retErr, "", sanitizeToolParams(map[string]any{
			"conversions": args.Conversions, "steps": args.StepsSince,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "funnelsim_score"); err != nil {
		return nil, ScoreOutput{}, err
	}

	maxConv, maxSteps := s.defaults.Experiment.MaxConversions, s.defaults.Experiment.MaxSteps
	if args.MaxConversions != nil {
		maxConv = *args.MaxConversions
	}
	if args.MaxSteps != nil {
		maxSteps = *args.MaxSteps
	}

	scorer, err := ranking.NewStateScorer(maxConv, maxSteps)
	if err != nil {
		return nil, ScoreOutput{}, err
	}

	return nil, ScoreOutput{
		Score:     scorer.Score(args.Conversions, args.StepsSince),
		Delta:     scorer.Delta(args.Conversions, args.StepsSince),
		Magnitude: scorer.Magnitude(args.Conversions),
		DecayRate: scorer.DecayRate(),
	}, nil
}

// handleHistory implements the funnelsim_history tool.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		params := map[string]any{"policy": args.Policy, "decay": deref(args.Decay), "lambda": deref(args.Lambda), "limit": args.Limit}
		if args.RunID != "" {
			params["run_id"] = args.RunID
		}
		s.auditTool("funnelsim_history", start, retErr, args.RunID, sanitizeToolParams(params))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "funnelsim_history"); err != nil {
		return nil, HistoryOutput{}, err
	}

	if args.RunID != "" {
		run, err := s.store.GetRun(ctx, args.RunID)
		if err != nil {
			return nil, HistoryOutput{}, err
		}
		trials, err := s.store.GetTrials(ctx, args.RunID)
		if err != nil {
			return nil, HistoryOutput{}, err
		}

		out := HistoryOutput{Runs: []RunSummary{summarize(*run)}, Count: 1}
		for _, t := range trials {
			out.Trials = append(out.Trials, TrialSummary{
				Trial: t.Trial, Seed: t.Seed,
				Stage1: t.Stage1, Stage2: t.Stage2, Stage3: t.Stage3,
				Finished: t.Finished, Saturated: t.Saturated,
			})
		}
		return nil, out, nil
	}

	if args.Policy != "" && !constants.Policy(args.Policy).Valid() {
		return nil, HistoryOutput{}, fmt.Errorf("'policy' must be 'baseline' or 'proposed', got %q", args.Policy)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	runs, err := s.store.ListRuns(ctx, store.RunFilter{
		Policy: args.Policy,
		Decay:  args.Decay,
		Lambda: args.Lambda,
		Limit:  limit,
	})
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}

	out := HistoryOutput{Runs: make([]RunSummary, 0, len(runs)), Count: len(runs)}
	for _, r := range runs {
		out.Runs = append(out.Runs, summarize(r))
	}
	return nil, out, nil
}
