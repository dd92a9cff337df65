// Package policy gates requests through OPA. Policies live in .rego files
// under the configured bundle path and are evaluated per request; a deny
// surfaces to the client as a permission error.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/relayworks/mirage-gateway/internal/config"
)

// Input is the document handed to OPA for each request.
type Input struct {
	Key     KeyInfo     `json:"key"`
	Request RequestInfo `json:"request"`
	Time    TimeInfo    `json:"time"`
}

type KeyInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RequestInfo struct {
	Channel  string `json:"channel"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Stream   bool   `json:"stream"`
}

type TimeInfo struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator holds a prepared Rego query, swappable on reload.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
}

// NewEvaluator creates an evaluator. Call Load to compile the bundle.
func NewEvaluator(cfg func() config.PolicyConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Enabled reports whether the policy gate is configured on.
func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles all .rego modules from the configured bundle path.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	modules, err := LoadRegoFiles(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("opa policies loaded", "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from in-memory sources.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){
		rego.Query("[data.mirage.policy.allow, data.mirage.policy.reason]"),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy for one request. With the gate enabled and no
// policies loaded, requests are denied: the gate fails closed, evaluation
// errors included.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) Decision {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return Decision{Allowed: false, Reason: "no policies loaded"}
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		slog.Error("policy evaluation failed", "error", err)
		return Decision{Allowed: false, Reason: "policy evaluation failed"}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: false, Reason: "no policy result"}
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{Allowed: false, Reason: "unexpected policy result format"}
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return Decision{Allowed: allowed, Reason: reason}
}

// InputFor builds the evaluation input for a request at the current time.
func InputFor(keyID, keyName, channel, model, providerName string, stream bool) Input {
	now := time.Now().UTC()
	return Input{
		Key: KeyInfo{ID: keyID, Name: keyName},
		Request: RequestInfo{
			Channel:  channel,
			Model:    model,
			Provider: providerName,
			Stream:   stream,
		},
		Time: TimeInfo{Hour: now.Hour(), Day: now.Weekday().String()},
	}
}
