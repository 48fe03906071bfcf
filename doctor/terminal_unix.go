//go:build !windows

package doctor

import "os/exec"

// resetTerminal undoes raw mode left behind by a device picker or a
// keyboard grab.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
