package main

import "github.com/fluxorio/appbridge/cmd/appbridge/cmd"

func main() {
	cmd.Execute()
}
