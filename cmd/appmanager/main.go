package main

import "github.com/fluxorio/appbridge/cmd/appmanager/cmd"

func main() {
	cmd.Execute()
}
