package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/skyrelay/cmd/skyrelay-controller/app"
)

func main() {
	app.NewApp().Run()
}
