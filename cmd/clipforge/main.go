// clipforge assembles short-form videos: it normalizes input clips with
// hardware-accelerated transcoding where available and merges them into one
// output with reconstructed audio.
package main

import (
	"os"

	"github.com/clipforge/clipforge/cmd/clipforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
