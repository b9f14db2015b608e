package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// RunCmd spawns a batch of agents from --agent specs and runs the
// scheduler loop across all of them, exercising priority preemption
// between multiple agents (spec.md §8's priority-preemption scenario)
// rather than spawn's single-agent run.
type RunCmd struct {
	Agent      []string `help:"Agent spec name:priority:task, repeatable." placeholder:"NAME:PRIORITY:TASK"`
	Iterations int      `help:"Maximum schedule/step iterations." default:"100"`
}

type agentSpec struct {
	name     string
	priority int
	task     string
}

func parseAgentSpec(s string) (agentSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return agentSpec{}, fmt.Errorf("invalid --agent spec %q (want name:priority:task)", s)
	}
	priority, err := strconv.Atoi(parts[1])
	if err != nil {
		return agentSpec{}, fmt.Errorf("invalid priority in --agent spec %q: %w", s, err)
	}
	return agentSpec{name: parts[0], priority: priority, task: parts[2]}, nil
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	var pids []process.PID
	for _, raw := range c.Agent {
		spec, err := parseAgentSpec(raw)
		if err != nil {
			return err
		}
		pid, err := k.SpawnAgent(spec.name, spec.task, spec.priority, nil)
		if err != nil {
			return err
		}
		fmt.Println("spawned", pid, spec.name)
		pids = append(pids, pid)
	}

	if err := k.Run(c.Iterations, ""); err != nil {
		return err
	}

	stats := k.SchedulerStats()
	fmt.Printf("scheduled=%d preempted=%d\n", stats.TotalScheduled, stats.TotalPreempted)

	for _, pid := range pids {
		snap, err := k.GetAgentStatus(pid)
		if err != nil {
			fmt.Println(pid, "error:", err)
			continue
		}
		fmt.Printf("%s %-10s state=%s errors=%d\n", pid, snap.Name, snap.State, snap.ErrorCount)
	}
	return nil
}
