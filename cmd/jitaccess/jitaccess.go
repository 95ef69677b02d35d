package main

import (
	"fmt"
	"os"

	"go.cloudsolutions.dev/jitaccess/cmd/jitaccess/app"
)

func main() {
	if err := app.Command().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
