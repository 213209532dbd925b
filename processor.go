package main

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemStage is how far an item got through processing.
type ItemStage int

const (
	StagePending ItemStage = iota
	StageParamsResolved
	StageRequestBuilt
	StageDispatched
	StageSucceeded
	StageFailedRecovered
	StageFailedFatal
)

func (s ItemStage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageParamsResolved:
		return "params resolved"
	case StageRequestBuilt:
		return "request built"
	case StageDispatched:
		return "dispatched"
	case StageSucceeded:
		return "succeeded"
	case StageFailedRecovered:
		return "failed, recovered"
	case StageFailedFatal:
		return "failed, fatal"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// OutputRecord is the result for one input item.
type OutputRecord struct {
	ItemIndex int
	Data      any
	Error     string
	Timestamp time.Time
	Failed    bool
}

func (r OutputRecord) MarshalJSON() ([]byte, error) {
	if r.Failed {
		return json.Marshal(struct {
			Error     string `json:"error"`
			ItemIndex int    `json:"itemIndex"`
			Timestamp string `json:"timestamp"`
		}{r.Error, r.ItemIndex, r.Timestamp.UTC().Format(time.RFC3339)})
	}
	return json.Marshal(struct {
		Data any `json:"data"`
	}{r.Data})
}

// RetryPolicy controls re-dispatch of retryable transport failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay < base {
		maxDelay = 30 * time.Second
	}
	if attempt > 20 {
		return maxDelay
	}
	d := base << attempt
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

// Processor runs the node over every item of a host, in order.
type Processor struct {
	version   int
	builder   *RequestBuilder
	transport Transport
	generator AnimationGenerator
	retry     RetryPolicy
	logger    Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor returns a processor for the given node version.
func NewProcessor(version int, builder *RequestBuilder, transport Transport, logger Logger) *Processor {
	return &Processor{
		version:   version,
		builder:   builder,
		transport: transport,
		generator: placeholderGenerator{},
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// WithRetry sets the retry policy.
func (p *Processor) WithRetry(policy RetryPolicy) *Processor {
	p.retry = policy
	return p
}

// WithGenerator replaces the animation generator.
func (p *Processor) WithGenerator(g AnimationGenerator) *Processor {
	p.generator = g
	return p
}

// Process handles every item sequentially. A failing item either becomes an
// error record, when the host continues on failure, or stops the run with an
// *ItemError. Records produced before the stop are returned with the error.
func (p *Processor) Process(ctx context.Context, host Host) ([]OutputRecord, error) {
	items := host.Items()
	records := make([]OutputRecord, 0, len(items))
	runID := uuid.New().String()[:8]

	p.logger.Log("Run %s: processing %d item(s) with %s transport", runID, len(items), p.transport.Name())

	for i := range items {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		log := &itemLogger{index: i, total: len(items), base: p.logger}
		data, stage, err := p.processItem(ctx, host, i, log)
		if err == nil {
			log.Debug("%s", StageSucceeded)
			records = append(records, OutputRecord{ItemIndex: i, Data: data})
			continue
		}

		if host.ContinueOnFail() {
			log.Log("Failed after %s, continuing: %v", stage, err)
			records = append(records, OutputRecord{
				ItemIndex: i,
				Error:     err.Error(),
				Timestamp: p.now(),
				Failed:    true,
			})
			continue
		}

		log.Log("Failed after %s, halting run %s: %v", stage, runID, err)
		return records, &ItemError{Index: i, Stage: stage, Err: err}
	}

	p.logger.Log("Run %s: completed %d item(s)", runID, len(records))
	return records, nil
}

func (p *Processor) processItem(ctx context.Context, host Host, i int, log Logger) (any, ItemStage, error) {
	stage := StagePending

	op, err := stringParam(host, "operation", i)
	if err != nil {
		return nil, stage, err
	}
	if !NodeSchema.Supports(p.version, op) {
		return nil, stage, newValidationError("operation", "operation %q is not available in node version %d", op, p.version)
	}
	log.Debug("Operation: %s", op)

	var desc *RequestDescription
	switch op {
	case OpGenerateAnimation:
		req, err := resolveAnimationRequest(host, i)
		if err != nil {
			return nil, stage, err
		}
		log.Log("Generating animation from %s input (length %d)", req.InputType, len(req.Input))
		out, err := p.generator.Generate(ctx, req)
		return out, StageDispatched, err

	case OpGetImageList:
		creds, err := credentialsParam(host, i)
		if err != nil {
			return nil, stage, err
		}
		page, err := intParam(host, "page", i)
		if err != nil {
			return nil, stage, err
		}
		pageSize, err := intParam(host, "pageSize", i)
		if err != nil {
			return nil, stage, err
		}
		stage = StageParamsResolved
		if desc, err = p.builder.BuildListAssetsRequest(creds, page, pageSize); err != nil {
			return nil, stage, err
		}

	case OpUploadImage:
		creds, err := credentialsParam(host, i)
		if err != nil {
			return nil, stage, err
		}
		property, err := stringParam(host, "binaryPropertyName", i)
		if err != nil {
			return nil, stage, err
		}
		payload, err := host.Binary(i, property)
		if err != nil {
			return nil, stage, err
		}
		stage = StageParamsResolved
		if desc, err = p.builder.BuildUploadAssetRequest(creds, payload); err != nil {
			return nil, stage, err
		}

	default:
		return nil, stage, newValidationError("operation", "unknown operation %q", op)
	}

	log.Debug("%s %s %s", StageRequestBuilt, desc.Method, desc.Path())
	data, err := p.dispatch(ctx, desc, log)
	return data, StageDispatched, err
}

// dispatch sends desc, re-sending only errors classified as retryable.
func (p *Processor) dispatch(ctx context.Context, desc *RequestDescription, log Logger) (any, error) {
	for attempt := 0; ; attempt++ {
		resp, err := p.transport.Send(ctx, desc)
		if err == nil {
			return resp.JSON()
		}
		if attempt >= p.retry.MaxRetries || !IsRetryableError(err) || ctx.Err() != nil {
			return nil, err
		}
		delay := p.retry.backoff(attempt)
		log.Log("Attempt %d/%d failed, retrying in %v: %v", attempt+1, p.retry.MaxRetries+1, delay, err)
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// Parameter coercion
// =============================================================================

func resolveAnimationRequest(host Host, i int) (AnimationRequest, error) {
	inputType, err := stringParam(host, "inputType", i)
	if err != nil {
		return AnimationRequest{}, err
	}
	inputParam := "textInput"
	if inputType == InputTypeImage {
		inputParam = "imageInput"
	}
	input, err := stringParam(host, inputParam, i)
	if err != nil {
		return AnimationRequest{}, err
	}
	return ValidateAnimationInput(inputType, input)
}

func credentialsParam(host Host, i int) (SessionCredentials, error) {
	raw, err := host.Parameter("configJson", i)
	if err != nil {
		return SessionCredentials{}, err
	}
	return ParseCredentials(raw)
}

func stringParam(host Host, name string, i int) (string, error) {
	v, err := host.Parameter(name, i)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	default:
		return "", newValidationError(name, "parameter %s must be a string, got %T", name, v)
	}
}

func intParam(host Host, name string, i int) (int, error) {
	v, err := host.Parameter(name, i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, newValidationError(name, "parameter %s must be an integer, got %v", name, n)
		}
		return int(n), nil
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, newValidationError(name, "parameter %s must be an integer, got %s", name, n)
		}
		return int(parsed), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, newValidationError(name, "parameter %s must be an integer, got %q", name, n)
		}
		return parsed, nil
	default:
		return 0, newValidationError(name, "parameter %s must be an integer, got %T", name, v)
	}
}
