package main

import (
	"fmt"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// AuditCmd prints an agent's persisted audit trail, newest first.
type AuditCmd struct {
	PID   string `arg:"" help:"Process ID."`
	Limit int    `help:"Maximum number of entries." default:"20"`
}

func (c *AuditCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	trail, err := k.GetAuditTrail(process.PID(c.PID), c.Limit)
	if err != nil {
		return err
	}
	for _, rec := range trail {
		fmt.Printf("%s %-20s input=%q output=%q\n", rec.Timestamp.Format("15:04:05"), rec.ActionType, rec.Input, rec.Output)
	}
	return nil
}
