package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/mix-go/xcli/flag"

	"taskkernel/scheduler"
)

type TestCommand struct{}

func (t *TestCommand) Main() {
	name := flag.Match("n", "name").String("")
	a := boot(context.Background())
	if name == "" {
		a.logger.Fatalf("--name is required")
	}
	rule, ok := scheduler.FindRule(a.kernel.Rules, name)
	if !ok {
		a.logger.Fatalf("no scheduled rule named %q", name)
	}

	res := a.kernel.Invoker.Invoke(context.Background(), rule)
	if err := a.kernel.Invoker.Close(); err != nil {
		a.logger.Warnf("close task output files: %v", err)
	}
	fmt.Printf("%s: %s %s (%s)\n", rule.Name, res.Status, res.Detail, res.Duration())
	if res.Output != "" {
		fmt.Print(res.Output)
	}
	if !res.Success() {
		os.Exit(1)
	}
}
