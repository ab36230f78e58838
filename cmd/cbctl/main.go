// Command cbctl runs key-value, view and bucket administration operations
// against a Couchbase cluster.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
