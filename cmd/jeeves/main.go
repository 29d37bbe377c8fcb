// Command jeeves drives an issue through a declarative agent workflow.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		fatal(err)
		os.Exit(1)
	}
}
