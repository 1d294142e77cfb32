//go:build windows

package mcp

import (
	"os"
	"os/signal"
)

// notifySignals stops the stdio server on Ctrl+C, the only shutdown signal
// Windows delivers.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
