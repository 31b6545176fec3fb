package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/skyrelay/cmd/skyrelay-agent/app"
)

func main() {
	app.NewApp().Run()
}
