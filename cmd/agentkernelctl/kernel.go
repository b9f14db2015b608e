package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/config"
	"github.com/agentkernel/agentkernel/pkg/kernel"
	"github.com/agentkernel/agentkernel/pkg/observability"
	"github.com/agentkernel/agentkernel/pkg/process"
	"github.com/agentkernel/agentkernel/pkg/storage"
	"github.com/agentkernel/agentkernel/pkg/toolkit"
)

// loadConfig loads path if set, otherwise falls back to defaults — the
// same non-fatal zero-config fallback the teacher's CLI applies when no
// --config is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return storage.NewMemoryBackend(), nil
	case "sqlite":
		return storage.NewSQLBackend("sqlite3", cfg.Storage.DSN, "sqlite")
	case "postgres":
		return storage.NewSQLBackend("postgres", cfg.Storage.DSN, "postgres")
	case "mysql":
		return storage.NewSQLBackend("mysql", cfg.Storage.DSN, "mysql")
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// echoStepFunc is a deterministic stand-in for the external LLM provider
// contract of spec.md §6 (concrete providers are explicitly out of scope
// for the core): it never calls a model, always declines to act, and
// reports done after a fixed number of calls so `run` terminates.
func echoStepFunc() kernel.StepFunc {
	calls := map[process.PID]int{}
	return func(pid process.PID, assembledContext string) (kernel.StepDecision, error) {
		calls[pid]++
		return kernel.StepDecision{
			Reasoning: fmt.Sprintf("observed %d bytes of context on call %d", len(assembledContext), calls[pid]),
			Done:      calls[pid] >= 3,
		}, nil
	}
}

func buildKernel(cfg *config.Config) (*kernel.Kernel, error) {
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	observability.Init(observability.ParseLevel(cfg.Observability.LogLevel), os.Stderr)

	k := kernel.New(kernel.Config{
		MaxContextTokens: cfg.Pager.MaxContextTokens,
		Quota:            cfg.ToQuotaConfig(),
		Scheduler:        cfg.ToSchedulerConfig(),
		Breaker:          cfg.ToBreakerConfig(),
		Backend:          backend,
		Clock:            clock.Default,
		Step:             echoStepFunc(),
	})
	registerBuiltinTools(k.Tools())
	return k, nil
}

// registerBuiltinTools wires a minimal tool, grounded on the teacher's
// functiontool pattern, so a fresh kernel has something dispatchable.
func registerBuiltinTools(reg *toolkit.Registry) {
	_ = reg.Register(echoTool{}, "builtin")
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes the given text back." }
func (echoTool) Parameters() []toolkit.Parameter {
	return []toolkit.Parameter{{Name: "text", Type: "string", Description: "text to echo", Required: true}}
}
func (echoTool) Execute(args map[string]any) toolkit.Result {
	text, _ := args["text"].(string)
	return toolkit.Result{Success: true, Data: strings.TrimSpace(text)}
}
