// Command agentkernelctl is the CLI for the agent runtime kernel, adapted
// from the teacher's cmd/hector: a kong command tree over a long-lived
// in-process runtime, rather than the teacher's LLM-serving CLI.
//
// Usage:
//
//	agentkernelctl spawn --name worker --task "summarize the inbox"
//	agentkernelctl run --config kernel.yaml --iterations 50
//	agentkernelctl ps <pid>...
//	agentkernelctl checkpoint create --task "summarize the inbox"
//	agentkernelctl checkpoint restore <id>
//	agentkernelctl audit <pid>
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Spawn      SpawnCmd      `cmd:"" help:"Spawn a new agent process and enqueue it in the scheduler."`
	Run        RunCmd        `cmd:"" help:"Run the kernel's schedule/step loop."`
	PS         PSCmd         `cmd:"" help:"Show the last persisted state of the given agent processes."`
	Checkpoint CheckpointCmd `cmd:"" help:"Create or restore a checkpoint."`
	Audit      AuditCmd      `cmd:"" help:"Print an agent's audit trail."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to kernel config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error). Not applied; the config file's observability log level is used." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("agentkernelctl dev")
	return nil
}

func main() {
	var cli CLI
	parser := kong.Parse(&cli,
		kong.Name("agentkernelctl"),
		kong.Description("Control plane for the agent runtime kernel."),
		kong.UsageOnError(),
	)
	if err := parser.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
