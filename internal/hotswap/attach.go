package hotswap

import (
	"bufio"
	"os"
	"strings"
)

// TracerAttached reports whether a debugger is attached to this process.
// It reads TracerPid from /proc/self/status and reports true where that
// file does not exist, since the answer is unknown there.
func TracerAttached() bool {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return true
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if pid, ok := strings.CutPrefix(line, "TracerPid:"); ok {
			return strings.TrimSpace(pid) != "0"
		}
	}
	return true
}
