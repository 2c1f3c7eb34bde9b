package chain

import (
	"context"
	"testing"

	xerrors "Plugweave/internal/errors"
)

func TestRegistryStatusAndCleanup(t *testing.T) {
	e := pipelineEnv(t)
	chain := buildChain(t, e, BuildRequest{Goal: "process data", Mode: ModeSequential})

	status, err := e.chains.Status(chain.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TotalNodes != 3 || status.ExecutedNodes != 0 || status.Progress != 0 {
		t.Fatalf("fresh status = %+v, want 0/3", status)
	}

	if _, err := e.runner.Run(context.Background(), chain, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	status, err = e.chains.Status(chain.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ExecutedNodes != 3 || status.Progress != 1 {
		t.Fatalf("final status = %+v, want 3/3", status)
	}

	if !e.chains.Cleanup(chain.ID) {
		t.Fatal("cleanup of a known chain must return true")
	}
	if e.chains.Cleanup(chain.ID) {
		t.Fatal("cleanup of a removed chain must return false")
	}
	if _, err := e.chains.Status(chain.ID); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("status after cleanup = %v, want NOT_FOUND", err)
	}
}

func TestRegistryUnknownChain(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Status("chain-99"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("status = %v, want NOT_FOUND", err)
	}
	if r.Cleanup("chain-99") {
		t.Fatal("cleanup of an unknown chain must return false")
	}
}
