package main

import (
	"github.com/BioHazard786/meshroom/cmd"
	"github.com/BioHazard786/meshroom/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
