//go:build !windows

package proclaunch

import "syscall"

var terminateSignal = syscall.SIGTERM
