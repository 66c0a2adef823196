package main

import (
	"github.com/OFFIS-RIT/spans/internal/bootstrap"
	"github.com/OFFIS-RIT/spans/internal/server"
	"github.com/OFFIS-RIT/spans/internal/util"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger()

	server.Init()
}
