// Package main is the entry point for the DocuMind QA service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/documind-io/documind/internal/documind"
)

func main() {
	documind.NewApp().Run()
}
