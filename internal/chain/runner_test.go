package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	xerrors "Plugweave/internal/errors"
	"Plugweave/internal/outcome"
	"Plugweave/pkg/plugin"
)

func buildChain(t *testing.T, e *env, req BuildRequest) *Chain {
	t.Helper()
	chain, err := e.builder.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if chain == nil {
		t.Fatal("expected a chain, got nil")
	}
	return chain
}

func TestRunSequentialMergesContext(t *testing.T) {
	e := pipelineEnv(t)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})

	result, err := e.runner.Run(context.Background(), chain, map[string]any{"seed": 42})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, key := range []string{"seed", "data", "report", "archived"} {
		if _, ok := result[key]; !ok {
			t.Fatalf("context missing %q: %v", key, result)
		}
	}
	if got := chain.ExecutedNodes(); got != 3 {
		t.Fatalf("executed nodes = %d, want 3", got)
	}
	for _, n := range chain.Nodes {
		if !n.Executed() {
			t.Fatalf("node %s not marked executed", n.Identity)
		}
	}
}

func TestRunSequentialInputsComeFromContext(t *testing.T) {
	var seen map[string]any
	e := newEnv(t,
		passthrough(
			testDescriptor("producer", "Process data production", nil, []string{"data"}, 2),
			map[string]any{"data": "payload", "noise": true}),
		plugin.Func{
			Meta: testDescriptor("consumer", "Process data consumption", []string{"data"}, []string{"result"}, 1),
			Run: func(_ context.Context, _ string, input map[string]any) (map[string]any, error) {
				seen = input
				return map[string]any{"result": "ok"}, nil
			},
		},
	)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})
	if _, err := e.runner.Run(context.Background(), chain, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if seen["data"] != "payload" {
		t.Fatalf("consumer input = %v, want data=payload", seen)
	}
	// Only the declared input types are projected into the node input.
	if _, ok := seen["noise"]; ok {
		t.Fatalf("consumer input leaked undeclared keys: %v", seen)
	}
}

func TestRunSequentialAbortReturnsPartialContext(t *testing.T) {
	boom := errors.New("downstream unavailable")
	e := newEnv(t,
		passthrough(
			testDescriptor("first", "Process data stage one", nil, []string{"data"}, 3),
			map[string]any{"data": 1}),
		plugin.Func{
			Meta: testDescriptor("second", "Process data stage two", []string{"data"}, []string{"report"}, 2),
			Run: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
				return nil, boom
			},
		},
		passthrough(
			testDescriptor("third", "Process data stage three", []string{"report"}, nil, 1),
			map[string]any{"done": true}),
	)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})

	result, err := e.runner.Run(context.Background(), chain, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailure {
		t.Fatalf("error code = %s, want EXECUTION_FAILURE", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "second") {
		t.Fatalf("error does not name the failing node: %v", err)
	}
	if result["data"] != 1 {
		t.Fatalf("partial context lost committed output: %v", result)
	}
	if _, ok := result["done"]; ok {
		t.Fatalf("aborted chain still ran later nodes: %v", result)
	}
	if chain.Node("third").Executed() {
		t.Fatal("third node must not execute after the abort")
	}
}

// Level fixture: two independent sources feed one join node.
func fanInEnv(t *testing.T, trace *executionTrace, failRight bool) *env {
	t.Helper()
	run := func(identity string, outputs map[string]any, fail bool) plugin.Func {
		meta := testDescriptor(identity, "Process data "+identity, nil, nil, 1)
		switch identity {
		case "left":
			meta.OutputTypes = []string{"a"}
			meta.ChainPriority = 3
		case "right":
			meta.OutputTypes = []string{"b"}
			meta.ChainPriority = 2
		case "join":
			meta.InputTypes = []string{"a", "b"}
			meta.OutputTypes = []string{"merged"}
		}
		return plugin.Func{
			Meta: meta,
			Run: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
				trace.record(identity)
				if fail {
					return nil, errors.New(identity + " failed")
				}
				return outputs, nil
			},
		}
	}
	return newEnv(t,
		run("left", map[string]any{"a": "A"}, false),
		run("right", map[string]any{"b": "B"}, failRight),
		run("join", map[string]any{"merged": "AB"}, false),
	)
}

type executionTrace struct {
	mu    sync.Mutex
	order []string
}

func (tr *executionTrace) record(identity string) {
	tr.mu.Lock()
	tr.order = append(tr.order, identity)
	tr.mu.Unlock()
}

func (tr *executionTrace) position(identity string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, id := range tr.order {
		if id == identity {
			return i
		}
	}
	return -1
}

func TestRunParallelLevelOrdering(t *testing.T) {
	trace := &executionTrace{}
	e := fanInEnv(t, trace, false)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeParallel})

	levels := computeLevels(chain)
	if len(levels) != 2 || len(levels[0]) != 2 || len(levels[1]) != 1 {
		t.Fatalf("levels = %v, want [[left right] [join]]", levels)
	}

	result, err := e.runner.Run(context.Background(), chain, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result["merged"] != "AB" {
		t.Fatalf("context = %v, want merged=AB", result)
	}
	joinPos := trace.position("join")
	if joinPos < 0 {
		t.Fatal("join never executed")
	}
	if trace.position("left") > joinPos || trace.position("right") > joinPos {
		t.Fatalf("level 1 started before level 0 finished: %v", trace.order)
	}
}

func TestRunParallelAbortsWholeLevel(t *testing.T) {
	trace := &executionTrace{}
	e := fanInEnv(t, trace, true)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeParallel})

	result, err := e.runner.Run(context.Background(), chain, map[string]any{"seed": true})
	if err == nil {
		t.Fatal("expected an error")
	}
	// The failed level is not committed, even for its successful nodes.
	if _, ok := result["a"]; ok {
		t.Fatalf("half-finished level leaked outputs: %v", result)
	}
	if _, ok := result["merged"]; ok {
		t.Fatalf("later level ran after the abort: %v", result)
	}
	if result["seed"] != true {
		t.Fatalf("initial context lost: %v", result)
	}
	if trace.position("join") != -1 {
		t.Fatal("join must not execute after a level abort")
	}
}

func TestRunAdaptiveDelegation(t *testing.T) {
	trace := &executionTrace{}
	e := fanInEnv(t, trace, false)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeAdaptive})
	if !chain.hasDependencies() {
		t.Fatal("fixture should produce a dependency edge")
	}
	result, err := e.runner.Run(context.Background(), chain, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result["merged"] != "AB" {
		t.Fatalf("context = %v, want merged=AB", result)
	}

	// Independent nodes delegate to sequential execution.
	flat := newEnv(t,
		passthrough(testDescriptor("one", "Process data one", nil, []string{"x"}, 2), map[string]any{"x": 1}),
		passthrough(testDescriptor("two", "Process data two", nil, []string{"y"}, 1), map[string]any{"y": 2}),
	)
	flatChain := buildChain(t, flat, BuildRequest{Goal: "process data", Mode: ModeAdaptive})
	if flatChain.hasDependencies() {
		t.Fatalf("flat fixture grew dependencies: %v", flatChain.Identities())
	}
	flatResult, err := flat.runner.Run(context.Background(), flatChain, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if flatResult["x"] != 1 || flatResult["y"] != 2 {
		t.Fatalf("context = %v, want x and y", flatResult)
	}
}

func TestRunTwiceResetsProgress(t *testing.T) {
	e := pipelineEnv(t)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})

	for i := 0; i < 2; i++ {
		if _, err := e.runner.Run(context.Background(), chain, nil); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	if got := chain.ExecutedNodes(); got != 3 {
		t.Fatalf("executed nodes after rerun = %d, want 3", got)
	}
	status := chain.status()
	if status.Progress != 1.0 || status.ExecutedNodes != status.TotalNodes {
		t.Fatalf("status after rerun = %+v", status)
	}
}

func TestRunRecordsGateOutcomes(t *testing.T) {
	e := pipelineEnv(t)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})
	if _, err := e.runner.Run(context.Background(), chain, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, identity := range []string{"p1", "p2", "p3"} {
		record, ok := e.gate.Record(identity)
		if !ok {
			t.Fatalf("no ledger entry for %s", identity)
		}
		if record.UsageCount != 1 {
			t.Fatalf("usage count for %s = %d, want 1", identity, record.UsageCount)
		}
		if record.ErrorFrequency != 0 {
			t.Fatalf("error frequency for %s = %v, want 0", identity, record.ErrorFrequency)
		}
	}
}

func TestRunPublishesOutcomeEvents(t *testing.T) {
	e := pipelineEnv(t)
	queue := outcome.NewMemoryQueue(8)
	runner, err := NewRunner(e.gate, WithOutcomeProducer(queue))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})
	if _, err := runner.Run(context.Background(), chain, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	var mu sync.Mutex
	events := make(map[string]outcome.Event)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 1, func(_ context.Context, event outcome.Event) error {
			mu.Lock()
			events[event.PluginIdentity] = event
			if len(events) == 3 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()
	<-done

	for _, identity := range []string{"p1", "p2", "p3"} {
		event, ok := events[identity]
		if !ok {
			t.Fatalf("no outcome event for %s", identity)
		}
		if !event.Success || event.ChainID != chain.ID || event.ID == "" {
			t.Fatalf("unexpected event for %s: %+v", identity, event)
		}
	}
}

func TestRunRecoversPluginPanic(t *testing.T) {
	e := newEnv(t, plugin.Func{
		Meta: testDescriptor("panicky", "Process data explosively", nil, nil, 1),
		Run: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			panic("boom")
		},
	})
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})

	_, err := e.runner.Run(context.Background(), chain, nil)
	if err == nil {
		t.Fatal("expected an error from the panicking plugin")
	}
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailure {
		t.Fatalf("error code = %s, want EXECUTION_FAILURE", xerrors.CodeOf(err))
	}
	record, ok := e.gate.Record("panicky")
	if !ok || record.UsageCount != 1 || record.ErrorFrequency != 1 {
		t.Fatalf("ledger after panic = %+v ok=%v, want one failed usage", record, ok)
	}
}

func TestRunNilChain(t *testing.T) {
	e := pipelineEnv(t)
	if _, err := e.runner.Run(context.Background(), nil, nil); err == nil {
		t.Fatal("expected an error for a nil chain")
	}
}
