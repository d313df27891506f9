package main

import (
	"os"

	"github.com/aquasecurity/vuln-reconcile/pkg"
	"github.com/aquasecurity/vuln-reconcile/pkg/log"
)

var (
	version = "0.0.1"
)

func main() {
	ac := pkg.AppConfig{}

	app := ac.NewApp(version)
	if err := app.Run(os.Args); err != nil {
		log.Error("Fatal error", log.Err(err))
		os.Exit(1)
	}
}
