// Command subfleet manages scheduled pause and resume transitions for a
// fleet of subscription accounts coordinated through a shared spreadsheet.
package main

import "os"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}
