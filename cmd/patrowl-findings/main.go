// Command patrowl-findings runs the findings API, the import worker and a few
// operator commands.
//
//	patrowl-findings serve --config patrowl.yaml
//	patrowl-findings worker
//	patrowl-findings timeline <finding-id>
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
