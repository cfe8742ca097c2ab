package systemsignal

import (
	"os"
	"os/signal"
	"syscall"
)

// IService is a server stopped by a termination signal.
type IService interface {
	StopNotify(sig os.Signal)
	Shutdown()
}

// HookSignals blocks until a termination signal arrives, then stops host.
func HookSignals(host IService) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	quit := <-sig
	host.StopNotify(quit)
	host.Shutdown()
}
