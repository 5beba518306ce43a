package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/bucket"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/Lllllllleong/documentworkflow/internal/rerun"
	"github.com/Lllllllleong/documentworkflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrMissingRequiredInput means a step definition names a context key that
	// the run never produced. It is a configuration fault and is returned as an error.
	ErrMissingRequiredInput = errors.New("missing required input")

	errFieldNotFound = errors.New("field not found in step output")
)

// Executor runs single workflow steps.
type Executor struct {
	registry *Registry
	gateway  *objectstore.Gateway
	cache    *rerun.Cache
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.StepMetrics
	now      func() time.Time
}

type Option func(*Executor)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func WithMetrics(metrics *telemetry.StepMetrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// WithClock pins the clock used for the date segment of object keys.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(registry *Registry, gateway *objectstore.Gateway, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		gateway:  gateway,
		logger:   logger,
		tracer:   telemetry.NoopTracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = rerun.NewCache(gateway, logger).WithClock(e.now)
	return e
}

// ExecuteStep runs one step against sctx. Expected failures come back as a
// FAILED or NOT_DEFINED StepOutput. The returned error is reserved for faults
// raised by the step implementation and for unresolvable required inputs; it
// is passed through untouched.
func (e *Executor) ExecuteStep(ctx context.Context, proc Processor, sctx *Context, step models.WorkflowStep) (out models.StepOutput, err error) {
	logCtx := e.logger.With(
		"requestId", sctx.Tracking.RequestID,
		"stepName", step.StepName,
		"stepOrder", step.StepOrder,
	)

	ctx, span := telemetry.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(telemetry.RequestIDKey, sctx.Tracking.RequestID),
		attribute.String(telemetry.StepNameKey, step.StepName),
		attribute.Int(telemetry.StepOrderKey, step.StepOrder),
		attribute.Int(telemetry.RerunAttemptKey, sctx.Tracking.Attempt()),
	)
	start := time.Now()
	defer func() {
		status := out.Status.String()
		if err != nil {
			status = "ERROR"
			telemetry.SetError(span, err)
		}
		span.SetAttributes(attribute.String(telemetry.StepStatusKey, status))
		span.End()
		e.metrics.ObserveStep(step.StepName, status, time.Since(start))
	}()

	def, ok := e.registry.Get(step.StepName)
	var callable Callable
	if ok {
		callable, ok = proc.Lookup(def.FunctionName)
	}
	if !ok {
		logCtx.Warn("Step has no bound implementation.")
		return models.NotDefined(step.StepName), nil
	}

	// The SAP flag selects the {stem} key prefix, the same flag that routes
	// master data to the SAP bucket.
	masterData := sctx.Tracking.SAPMasterData

	if def.RequireDataOutput {
		prior := e.cache.LoadPriorStepResult(ctx, rerun.Lookup{
			RequestID:    sctx.Tracking.RequestID,
			File:         sctx.File,
			Step:         step,
			StepConfig:   def,
			RerunAttempt: sctx.Tracking.Attempt(),
			MasterData:   masterData,
		})
		if rerun.Reusable(prior) {
			logCtx.Info("Reusing output of a prior attempt.", "key", prior.Key)
			e.metrics.CacheHit(step.StepName)
			out = models.Succeeded(prior.Output)
			stampRunMetadata(out, sctx, step)
			e.updateContext(logCtx, sctx, def, out)
			return out, nil
		}
	}

	args, err := resolveArgs(def, sctx)
	if err != nil {
		logCtx.Error("Failed to resolve step inputs", "error", err)
		return models.StepOutput{}, err
	}
	_ = sctx.Set(KeyInputData, args.Positional)

	logCtx.Info("Executing step.", "function", def.FunctionName)
	result, err := callable.invoke(ctx, sctx, args)
	if err != nil {
		logCtx.Error("Step implementation failed", "error", err)
		return models.StepOutput{}, err
	}
	out = normalize(result, step.StepName)
	if out.IsSuccess() {
		stampRunMetadata(out, sctx, step)
	}

	if def.RequireDataOutput && out.IsSuccess() {
		out = e.persist(ctx, logCtx, sctx, step, def, masterData, out)
	}

	e.updateContext(logCtx, sctx, def, out)
	logCtx.Info("Step finished.", "status", out.Status.String())
	return out, nil
}

func (e *Executor) persist(ctx context.Context, logCtx *slog.Logger, sctx *Context, step models.WorkflowStep, def Definition, masterData bool, out models.StepOutput) models.StepOutput {
	key, err := bucket.ObjectKey(bucket.KeyParams{
		RequestID:    sctx.Tracking.RequestID,
		File:         sctx.File,
		Step:         &step,
		StepConfig:   def,
		RerunAttempt: sctx.Tracking.Attempt(),
		MasterData:   masterData,
		FullPrefix:   true,
		Now:          e.now,
	})
	if err == nil {
		_, err = e.gateway.WriteJSON(ctx, sctx.File.TargetBucketName, key, out)
	}
	if err != nil {
		logCtx.Error("Failed to persist step output", "error", err)
		return models.Failed(nil, append(out.FailureMessages, err.Error())...)
	}

	if doc, ok := out.Output.(*models.ParsedDocument); ok {
		doc.JSONOutput = key
	}
	logCtx.Info("Persisted step output.", "bucket", sctx.File.TargetBucketName, "key", key)
	return out
}

func (e *Executor) updateContext(logCtx *slog.Logger, sctx *Context, def Definition, out models.StepOutput) {
	if def.DataOutput != "" {
		if err := sctx.Set(def.DataOutput, out.Output); err != nil {
			logCtx.Warn("Could not store step output", "key", def.DataOutput, "error", err)
		}
	}

	targets := make([]string, 0, len(def.ExtractTo))
	for target := range def.ExtractTo {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		value, err := extractField(out.Output, def.ExtractTo[target])
		if err != nil {
			logCtx.Warn("Extraction rule failed, defaulting to nil", "target", target, "error", err)
			value = nil
		}
		if err := sctx.Set(target, value); err != nil {
			logCtx.Warn("Could not store extracted value", "target", target, "error", err)
		}
	}
}

// stampRunMetadata records the run identity on parsed document outputs, so
// persisted artifacts carry it too.
func stampRunMetadata(out models.StepOutput, sctx *Context, step models.WorkflowStep) {
	doc, ok := out.Output.(*models.ParsedDocument)
	if !ok || doc == nil {
		return
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	doc.Metadata["workflow_id"] = sctx.Tracking.WorkflowID
	doc.Metadata["workflow_name"] = sctx.Tracking.WorkflowName
	doc.Metadata["step_name"] = step.StepName
	doc.Metadata["request_id"] = sctx.Tracking.RequestID
}

func resolveArgs(def Definition, sctx *Context) (Args, error) {
	args := Args{Positional: make([]any, 0, len(def.Args))}
	for _, b := range def.Args {
		v, err := resolve(b, sctx)
		if err != nil {
			return Args{}, err
		}
		args.Positional = append(args.Positional, v)
	}

	if len(def.Kwargs) > 0 {
		args.Keyword = make(map[string]any, len(def.Kwargs))
		for name, b := range def.Kwargs {
			v, err := resolve(b, sctx)
			if err != nil {
				return Args{}, err
			}
			args.Keyword[name] = v
		}
	}
	return args, nil
}

func resolve(b Binding, sctx *Context) (any, error) {
	if b.From == "" {
		return b.Value, nil
	}
	v, ok := sctx.Get(b.From)
	if !ok {
		if b.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredInput, b.From)
	}
	return v, nil
}

func normalize(result any, stepName string) models.StepOutput {
	var out models.StepOutput
	switch r := result.(type) {
	case models.StepOutput:
		out = r
	case *models.StepOutput:
		if r == nil {
			return models.Succeeded(nil)
		}
		out = *r
	default:
		return models.Succeeded(result)
	}

	switch {
	case out.Status == "":
		out.Status = models.StatusSuccess
	case out.Status == models.StatusFailed && len(out.FailureMessages) == 0:
		out.FailureMessages = []string{stepName + " failed"}
	}
	return out
}

// extractField reads a dotted path out of a step output.
func extractField(output any, path string) (any, error) {
	var current any
	switch v := output.(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s (no output)", errFieldNotFound, path)
	case map[string]any:
		current = v
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal step output: %w", err)
		}
		if err := json.Unmarshal(body, &current); err != nil {
			return nil, fmt.Errorf("failed to decode step output: %w", err)
		}
	}

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errFieldNotFound, path)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errFieldNotFound, path)
		}
	}
	return current, nil
}
