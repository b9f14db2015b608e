package main

import (
	"fmt"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// PSCmd reports the last persisted snapshot for the given PIDs. The live
// process table only exists inside a running kernel, so this reads back
// whatever was last written to the storage backend by spawn/run/terminate
// (the analogue of inspecting a checkpointed process after the kernel
// that ran it has exited).
type PSCmd struct {
	PID []string `arg:"" help:"Process IDs to inspect."`
}

func (c *PSCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	for _, raw := range c.PID {
		pid := process.PID(raw)
		snap, ok, err := k.GetPersistedStatus(pid)
		if err != nil {
			fmt.Println(pid, "error:", err)
			continue
		}
		if !ok {
			fmt.Println(pid, "not found")
			continue
		}
		fmt.Printf("%s %-10s state=%s priority=%d tokens=%d calls=%d\n",
			snap.PID, snap.Name, snap.State, snap.Priority, snap.TokenCount, snap.CallCount)
	}
	return nil
}
