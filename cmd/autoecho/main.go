package main

import (
	"fmt"
	"os"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/cmd"
)

var version = "dev"

func main() {
	root := cmd.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
