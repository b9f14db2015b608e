package main

import "fmt"

// SpawnCmd spawns one agent and immediately runs it to completion or
// exhaustion. The scheduler's process table lives only for the lifetime
// of the kernel (spec.md: "process table: owned by the scheduler; no
// external writes"), so a standalone "spawn" with no run loop would have
// nothing left to inspect once the CLI exits; spawn therefore folds in a
// bounded run, the same way the teacher's `hector serve` folds config
// loading and agent construction into one command.
type SpawnCmd struct {
	Name       string `help:"Agent name." default:"agent"`
	Task       string `help:"Task description for the agent." required:""`
	Priority   int    `help:"Scheduling priority (lower runs first)." default:"50"`
	Iterations int    `help:"Maximum schedule/step iterations to run." default:"10"`
}

func (c *SpawnCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	pid, err := k.SpawnAgent(c.Name, c.Task, c.Priority, nil)
	if err != nil {
		return err
	}
	fmt.Println("spawned", pid)

	if err := k.Run(c.Iterations, pid); err != nil {
		return err
	}

	snap, err := k.GetAgentStatus(pid)
	if err != nil {
		return err
	}
	fmt.Printf("final state: %s\n", snap.State)
	return nil
}
