package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nidohq/nido/internal/daemon"
	"github.com/nidohq/nido/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profileName}),
	)

	app.Run()
}
