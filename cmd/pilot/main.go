// Command pilot ingests a MAIN and SUB RTSP stream from one camera and
// writes a self-contained MP4 for every detected motion or light event.
package main

import (
	"fmt"
	"os"

	"github.com/Seer-Labs-Inc/device-pilot/cmd/pilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
