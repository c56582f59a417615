package launcher

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var signalsByName = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"TERM": syscall.SIGTERM,
	"CONT": syscall.SIGCONT,
	"STOP": syscall.SIGSTOP,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// ParseSignal resolves a cancel request's signal argument. Empty means
// SIGTERM; a decimal number is used as-is; names are accepted case
// insensitively, with or without the SIG prefix.
func ParseSignal(s string) (os.Signal, error) {
	if s == "" {
		return syscall.SIGTERM, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > 64 {
			return nil, fmt.Errorf("unknown signal '%s'", s)
		}
		return syscall.Signal(n), nil
	}
	name := strings.TrimPrefix(strings.ToUpper(s), "SIG")
	if sig, ok := signalsByName[name]; ok {
		return sig, nil
	}
	return nil, fmt.Errorf("unknown signal '%s'", s)
}
