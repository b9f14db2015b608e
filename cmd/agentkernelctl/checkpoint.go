package main

import "fmt"

// CheckpointCmd groups checkpoint creation and restoration. Restoring
// only needs the storage backend (checkpoints are durable, spec.md §4.6),
// so with a sqlite, postgres or mysql backend `checkpoint restore` works
// against checkpoints created by an earlier invocation (the default memory
// backend keeps nothing between invocations); `checkpoint create` spawns, steps once, and snapshots in
// one shot since the process table it snapshots is otherwise ephemeral.
type CheckpointCmd struct {
	Create  CheckpointCreateCmd  `cmd:"" help:"Spawn an agent, step it once, and checkpoint it."`
	Restore CheckpointRestoreCmd `cmd:"" help:"Restore a checkpoint into a new process."`
}

type CheckpointCreateCmd struct {
	Name        string `help:"Agent name." default:"agent"`
	Task        string `help:"Task description." required:""`
	Description string `help:"Checkpoint description."`
}

func (c *CheckpointCreateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	pid, err := k.SpawnAgent(c.Name, c.Task, 50, nil)
	if err != nil {
		return err
	}
	if err := k.Run(1, pid); err != nil {
		return err
	}

	id, err := k.CreateCheckpoint(pid, c.Description)
	if err != nil {
		return err
	}
	fmt.Println("checkpoint:", id)
	return nil
}

type CheckpointRestoreCmd struct {
	ID string `arg:"" help:"Checkpoint ID to restore."`
}

func (c *CheckpointRestoreCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	pid, err := k.RestoreCheckpoint(c.ID)
	if err != nil {
		return err
	}
	fmt.Println("restored as:", pid)
	return nil
}
