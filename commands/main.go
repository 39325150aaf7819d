package commands

import (
	"github.com/mix-go/xcli"
)

var Commands = []*xcli.Command{
	{
		Name:  "schedule:run",
		Short: "\tRun the scheduler in the foreground",
		Options: []*xcli.Option{
			{
				Names: []string{"addr"},
				Usage: "\tServe the status API on this address, e.g. :8080",
			},
			{
				Names: []string{"grace"},
				Usage: "\tShutdown grace period, e.g. 30s",
			},
		},
		RunI: &RunCommand{},
	},
	{
		Name:  "schedule:list",
		Short: "\tList scheduled rules with next due time and last status",
		RunI:  &ListCommand{},
	},
	{
		Name:  "schedule:test",
		Short: "\tRun one scheduled rule immediately",
		Options: []*xcli.Option{
			{
				Names: []string{"n", "name"},
				Usage: "Rule name or id",
			},
		},
		RunI: &TestCommand{},
	},
}
