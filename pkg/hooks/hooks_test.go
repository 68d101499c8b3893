package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitutesAllEscapes(t *testing.T) {
	ctx := Context{
		FailedPort:      5433,
		FailedDataDir:   "/data/1",
		FailedIndex:     1,
		FailedHost:      "pg1",
		NewMasterHost:   "pg0",
		NewMasterIndex:  0,
		NewMasterPort:   5432,
		NewMasterDir:    "/data/0",
		OldMasterIndex:  1,
		OldPrimaryIndex: 1,
	}

	got := Render("%d:%h:%p:%D -> %m:%H:%r:%R (was %M/%P) %%", ctx)

	assert.Equal(t, "1:pg1:5433:/data/1 -> 0:pg0:5432:/data/0 (was 1/1) %", got)
}

func TestRenderDropsUnknownEscape(t *testing.T) {
	got := Render("echo %z done", Context{})
	assert.Equal(t, "echo  done", got)
}

func TestRenderTrailingPercentIsLiteral(t *testing.T) {
	got := Render("abc%", Context{})
	assert.Equal(t, "abc%", got)
}

func TestRunEmptyCommandIsNoop(t *testing.T) {
	err := Run(context.Background(), "failover_command", "")
	assert.NoError(t, err)
}

func TestRunExecutesShellCommand(t *testing.T) {
	err := Run(context.Background(), "failover_command", "true")
	assert.NoError(t, err)
}

func TestRunPropagatesNonZeroExit(t *testing.T) {
	err := Run(context.Background(), "failover_command", "false")
	assert.Error(t, err)
}
