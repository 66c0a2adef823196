package main

import (
	"os"

	"github.com/OFFIS-RIT/spans/internal/bootstrap"
	"github.com/OFFIS-RIT/spans/internal/util"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
