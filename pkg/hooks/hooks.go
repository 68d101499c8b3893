// Package hooks renders and runs the failover/failback/follow-master
// shell-command templates. The substitution grammar is fixed and small
// (eleven escapes), so it is a hand-rolled single-pass scanner rather
// than a general templating library — the one component in this module
// deliberately built on the standard library rather than a third-party
// dependency. Hook execution uses os/exec.CommandContext with captured
// output.
package hooks

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sentrypool/sentrypool/pkg/log"
)

// Context carries the substitution values available to a hook template.
// Render writes each field as given: an unset string field such as %H
// renders as "", and an unset index field renders as "0", so callers
// that mean "no such node" set the index fields to -1 themselves (the
// failover engine does).
type Context struct {
	FailedPort     int
	FailedDataDir  string
	FailedIndex    int
	FailedHost     string
	NewMasterHost  string
	NewMasterIndex int
	NewMasterPort  int
	NewMasterDir   string
	OldMasterIndex int
	OldPrimaryIndex int
}

// Render expands a hook command template against ctx. Escapes not in the
// fixed alphabet are dropped ("%<other>: dropped").
func Render(template string, ctx Context) string {
	var out strings.Builder
	out.Grow(len(template))

	runes := []rune(template)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i == len(runes)-1 {
			out.WriteRune(runes[i])
			continue
		}
		i++
		switch runes[i] {
		case 'p':
			out.WriteString(strconv.Itoa(ctx.FailedPort))
		case 'D':
			out.WriteString(ctx.FailedDataDir)
		case 'd':
			out.WriteString(strconv.Itoa(ctx.FailedIndex))
		case 'h':
			out.WriteString(ctx.FailedHost)
		case 'H':
			out.WriteString(ctx.NewMasterHost)
		case 'm':
			out.WriteString(strconv.Itoa(ctx.NewMasterIndex))
		case 'r':
			out.WriteString(strconv.Itoa(ctx.NewMasterPort))
		case 'R':
			out.WriteString(ctx.NewMasterDir)
		case 'M':
			out.WriteString(strconv.Itoa(ctx.OldMasterIndex))
		case 'P':
			out.WriteString(strconv.Itoa(ctx.OldPrimaryIndex))
		case '%':
			out.WriteRune('%')
		default:
			// dropped
		}
	}
	return out.String()
}

// Run executes an expanded hook command synchronously via /bin/sh -c.
// The exit code is logged, never interpreted: cluster
// state is never rolled back on hook failure.
func Run(ctx context.Context, name, command string) error {
	if command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := log.WithComponent("hooks")
	start := time.Now()
	err := cmd.Run()
	logger.Info().
		Str("hook", name).
		Str("command", command).
		Dur("duration", time.Since(start)).
		Err(err).
		Str("stdout", stdout.String()).
		Str("stderr", stderr.String()).
		Msg("hook command finished")
	return err
}

// RunDetached runs the follow-master hook in a background goroutine,
// since it may probe every standby and must not block the rest of the
// failover state machine.
func RunDetached(name, command string) {
	if command == "" {
		return
	}
	go func() {
		_ = Run(context.Background(), name, command)
	}()
}
