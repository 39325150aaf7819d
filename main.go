package main

import (
	"github.com/mix-go/xcli"
	"github.com/mix-go/xutil/xenv"

	"taskkernel/commands"
	_ "taskkernel/config/dotenv"
	_ "taskkernel/di"
)

func main() {
	xcli.SetName("taskkernel").
		SetVersion("0.1.0").
		SetDebug(xenv.Getenv("APP_DEBUG").Bool(false))
	xcli.AddCommand(commands.Commands...).Run()
}
