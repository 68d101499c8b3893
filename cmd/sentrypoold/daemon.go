package main

import (
	"os"
	"os/exec"
	"syscall"
)

// daemonizeEnv marks a re-exec'd process as already detached, so it
// does not try to daemonize itself again.
const daemonizeEnv = "SENTRYPOOLD_DAEMONIZED"

// daemonize implements --dont-detach's negative case: "run in the
// background". A multithreaded Go process cannot safely
// call the raw fork(2) the original relies on for its double-fork
// daemonization (only the calling thread survives a bare fork in a Go
// runtime), so the idiomatic replacement is to re-exec the same binary
// with the same arguments in a new session, detached from the
// controlling terminal, and let the parent exit immediately.
func daemonize() error {
	if os.Getenv(daemonizeEnv) == "1" {
		return nil
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizeEnv+"=1")
	cmd.Dir = "/"
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
