package main

import "os"

var (
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

func init() {
	// Check if output is a terminal
	if stat, err := os.Stdout.Stat(); err == nil {
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, disable colors
			colorGreen = ""
			colorRed = ""
			colorYellow = ""
			colorReset = ""
		}
	}
}
