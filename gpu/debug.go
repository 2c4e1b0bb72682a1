package gpu

import (
	"log"
	"os"
)

// Debug gates verbose diagnostics across the package: buffer
// allocation, pipeline compilation, dispatch sizing. Toggled at
// process start from TENSORVK_DEBUG so it can be flipped without a
// rebuild.
var Debug = os.Getenv("TENSORVK_DEBUG") != ""

var logger = log.New(os.Stderr, "[tensorvk] ", log.LstdFlags|log.Lmicroseconds)

// Log writes a debug line unconditionally; callers gate on Debug
// themselves so hot paths skip the Sprintf when it's off.
func Log(format string, args ...any) {
	logger.Printf(format, args...)
}
