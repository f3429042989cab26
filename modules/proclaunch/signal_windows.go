//go:build windows

package proclaunch

import "os"

var terminateSignal = os.Kill
