// Command stategraph runs the demo graphs against a configured checkpointer.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
