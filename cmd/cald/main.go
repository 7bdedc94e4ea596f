package main

import (
	"os"

	"cald/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewDaemonCommand()))
}
