package home

import (
	"os"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/kurime/sys"
)

// handleSessionShutdown signals the process so main runs the daemon
// shutdown hooks, which close voice sessions before the worker pool.
func handleSessionShutdown(event *events.ApplicationCommandInteractionCreate) {
	sys.LogWarn(sys.MsgSessionShutdownBy, event.User().Username, event.User().ID)
	_ = event.CreateMessage(containerMessage(sys.MsgSessionShuttingDown, true))

	time.Sleep(time.Second)
	_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
}
