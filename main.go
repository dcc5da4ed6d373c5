package main

import (
	"fmt"
	"os"

	"github.com/tphakala/nailong-guard/cmd"
	"github.com/tphakala/nailong-guard/internal/buildinfo"
	"github.com/tphakala/nailong-guard/internal/conf"
)

// Set via ldflags: -X main.version=... -X main.buildDate=...
var (
	version   string
	buildDate string
)

func main() {
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings, buildinfo.New(version, buildDate))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
