// Command pegtmpl builds PEG grammar templates into parsers.
package main

import (
	"os"

	"github.com/leapstack-labs/pegtmpl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
