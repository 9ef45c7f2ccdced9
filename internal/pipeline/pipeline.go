package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/cache"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
	"github.com/MikeSquared-Agency/vigil/internal/lexicon"
	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/prompt"
	"github.com/MikeSquared-Agency/vigil/internal/pruner"
	"github.com/MikeSquared-Agency/vigil/internal/relevance"
	"github.com/MikeSquared-Agency/vigil/internal/result"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Store is the persistence collaborator.
type Store interface {
	GetSessionTranscript(ctx context.Context, sessionID uuid.UUID) ([]byte, error)
	WriteEvaluation(ctx context.Context, rec store.EvaluationRecord) (uuid.UUID, error)
}

// Publisher emits outbound events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Claimer guards a session against concurrent evaluation.
type Claimer interface {
	Claim(ctx context.Context, sessionID string) (*cache.Claim, error)
	Release(ctx context.Context, c *cache.Claim) error
}

// Alerter notifies reviewers of RISK evaluations.
type Alerter interface {
	PostRiskAlert(ctx context.Context, alert slack.RiskAlert) (string, error)
}

// Options configure the local stages.
type Options struct {
	Lexicon         *lexicon.Lexicon
	FacilitatorRole string
	Weights         relevance.Weights
	Budget          pruner.Budget
	RubricVersion   string
	MaxTokens       int
	Retry           evaluator.RetryPolicy
	ParallelScoring bool
	Model           string
}

// Deps are the collaborators. Only Client is needed to evaluate; the rest
// are needed for stored sessions and may be left nil.
type Deps struct {
	Client    *evaluator.Client
	Store     Store
	Publisher Publisher
	Claims    Claimer
	Alerts    Alerter
	Metrics   *metrics.PipelineMetrics
}

// Pipeline runs validate → score → prune → prompt → call → validate. It keeps
// no per-evaluation state, so one Pipeline serves concurrent evaluations.
type Pipeline struct {
	scorer    *relevance.Scorer
	budget    pruner.Budget
	rubric    string
	maxTokens int
	retry     evaluator.RetryPolicy
	parallel  bool
	model     string

	client    *evaluator.Client
	store     Store
	publisher Publisher
	claims    Claimer
	alerts    Alerter
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger
}

// Outcome is a successful evaluation.
type Outcome struct {
	Result        *result.EvaluationResult `json:"result"`
	IsSafe        bool                     `json:"is_safe"`
	Pruned        *pruner.PrunedSession    `json:"pruned"`
	RubricVersion string                   `json:"rubric_version"`
	Provider      string                   `json:"provider"`
	Model         string                   `json:"model"`
	Attempts      int                      `json:"attempts"`
	Latency       time.Duration            `json:"latency_ns"`
}

func New(opts Options, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if opts.Lexicon == nil {
		return nil, errors.New("pipeline: lexicon is required")
	}
	if opts.RubricVersion == "" {
		opts.RubricVersion = prompt.DefaultVersion
	}
	if _, err := prompt.Lookup(opts.RubricVersion); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		scorer:    relevance.NewScorer(opts.Lexicon, opts.FacilitatorRole, opts.Weights),
		budget:    opts.Budget,
		rubric:    opts.RubricVersion,
		maxTokens: opts.MaxTokens,
		retry:     opts.Retry,
		parallel:  opts.ParallelScoring,
		model:     opts.Model,
		client:    deps.Client,
		store:     deps.Store,
		publisher: deps.Publisher,
		claims:    deps.Claims,
		alerts:    deps.Alerts,
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

// RubricVersion is the rubric every prompt is built with.
func (p *Pipeline) RubricVersion() string { return p.rubric }

// Budget is the pruning budget.
func (p *Pipeline) Budget() pruner.Budget { return p.budget }

// Provider names the configured evaluator, or "" when there is none.
func (p *Pipeline) Provider() string {
	if p.client == nil {
		return ""
	}
	return p.client.Provider()
}

// Prepare scores and prunes a session without calling the evaluator.
func (p *Pipeline) Prepare(ctx context.Context, session *transcript.Session) (*pruner.PrunedSession, error) {
	start := time.Now()
	var scored []relevance.ScoredTurn
	if p.parallel {
		var err error
		scored, err = p.scorer.ScoreParallel(ctx, session.Turns)
		if err != nil {
			return nil, &evaluator.CancelledError{Err: err}
		}
	} else {
		scored = p.scorer.Score(session.Turns)
	}
	p.metrics.ObserveStage("score", time.Since(start).Seconds())

	start = time.Now()
	pruned, err := pruner.Prune(session, scored, p.budget)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage("prune", time.Since(start).Seconds())
	p.metrics.ObservePruning(pruned.KeptTurnCount, pruned.OriginalTurnCount)
	return pruned, nil
}

// Evaluate runs the full pipeline on a raw transcript document.
func (p *Pipeline) Evaluate(ctx context.Context, raw []byte) (*Outcome, error) {
	start := time.Now()
	session, err := transcript.Parse(raw)
	p.metrics.ObserveStage("validate", time.Since(start).Seconds())
	if err != nil {
		p.observe(err)
		return nil, err
	}
	return p.EvaluateSession(ctx, session)
}

// EvaluateSession runs the pipeline on an already validated session.
func (p *Pipeline) EvaluateSession(ctx context.Context, session *transcript.Session) (*Outcome, error) {
	out, err := p.run(ctx, session)
	p.observe(err)
	return out, err
}

func (p *Pipeline) observe(err error) {
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	p.metrics.ObserveEvaluation(p.Provider(), outcome)
}

func (p *Pipeline) run(ctx context.Context, session *transcript.Session) (*Outcome, error) {
	if p.client == nil {
		return nil, errors.New("pipeline: no evaluator configured")
	}

	pruned, err := p.Prepare(ctx, session)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("transcript pruned",
		"topic", session.Topic,
		"original_turns", pruned.OriginalTurnCount,
		"kept_turns", pruned.KeptTurnCount,
		"omitted_turns", pruned.OmittedTurnCount(),
		"gaps", len(pruned.Gaps()),
		"budget_used", pruned.Used,
		"budget_limit", pruned.Budget.Limit,
	)

	pr, err := prompt.Build(p.rubric, pruned)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	provider := p.client.Provider()
	attempts := 0
	resp, err := evaluator.Do(ctx, p.retry, func(ctx context.Context) (*evaluator.Response, error) {
		attempts++
		resp, err := p.client.Evaluate(ctx, evaluator.Request{
			System:    pr.System,
			User:      pr.User,
			MaxTokens: p.maxTokens,
		})
		if err != nil {
			p.metrics.ObserveAttempt(provider, Kind(err))
			return nil, err
		}
		p.metrics.ObserveAttempt(provider, "ok")
		p.metrics.ObserveEvaluatorLatency(provider, resp.Latency.Seconds())
		return resp, nil
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("evaluator attempt failed, retrying",
			"provider", provider,
			"attempt", attempt,
			"max_attempts", p.retry.MaxAttempts,
			"wait", wait.String(),
			"error", err,
		)
	})
	if err != nil {
		return nil, err
	}

	res, err := result.Validate(resp.JSON)
	if err != nil {
		var serr *result.SchemaValidationError
		if errors.As(err, &serr) {
			p.logger.Error("evaluator output violates result schema",
				"provider", provider,
				"rubric_version", pr.RubricVersion,
				"fields", serr.Fields,
				"raw", resp.Raw,
			)
		}
		return nil, err
	}

	return &Outcome{
		Result:        res,
		IsSafe:        res.IsSafe(),
		Pruned:        pruned,
		RubricVersion: pr.RubricVersion,
		Provider:      provider,
		Model:         p.model,
		Attempts:      attempts,
		Latency:       resp.Latency,
	}, nil
}

// OptionsFromConfig loads the lexicon and maps environment settings onto
// pipeline options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	lex, err := lexicon.Default()
	if cfg.LexiconPath != "" {
		lex, err = lexicon.Load(cfg.LexiconPath)
	}
	if err != nil {
		return Options{}, fmt.Errorf("load lexicon: %w", err)
	}

	unit, err := pruner.ParseUnit(cfg.BudgetUnit)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Lexicon:         lex,
		FacilitatorRole: cfg.FacilitatorRole,
		Weights: relevance.Weights{
			Base:             cfg.BaseScore,
			FacilitatorBonus: cfg.FacilitatorBonus,
			EdgeBonus:        cfg.EdgeBonus,
			EdgeWindow:       cfg.EdgeWindow,
		},
		Budget:        pruner.Budget{Limit: cfg.Budget, Unit: unit},
		RubricVersion: cfg.RubricVersion,
		MaxTokens:     cfg.MaxTokens,
		Retry: evaluator.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BackoffBase,
			MaxDelay:    cfg.BackoffMax,
		},
		ParallelScoring: cfg.ParallelScoring,
		Model:           cfg.ProviderModel(),
	}, nil
}
