package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitRecognizesTerminatingCommands(t *testing.T) {
	assert.True(t, Exit("exit"))
	assert.True(t, Exit("  quit  "))
	assert.True(t, Exit("logout"))
	assert.False(t, Exit("ls"))
}

func TestRespondReturnsExactMatches(t *testing.T) {
	assert.Equal(t, "/root", Respond("pwd"))
	assert.Equal(t, "uid=0(root) gid=0(root) groups=0(root)", Respond("id"))
}

func TestRespondWhoamiReturnsRoot(t *testing.T) {
	assert.Equal(t, "root", Respond("whoami"))
}

func TestRespondHandlesCdSilently(t *testing.T) {
	assert.Equal(t, "", Respond("cd /tmp"))
}

func TestRespondEchoesArgument(t *testing.T) {
	assert.Equal(t, "hello world", Respond("echo hello world"))
}

func TestRespondFallsBackToCommandNotFound(t *testing.T) {
	assert.Equal(t, "-bash: fdisk: command not found", Respond("fdisk -l"))
}

func TestRespondPrefixMatchesKnownHeadToken(t *testing.T) {
	assert.Equal(t, Respond("ps"), Respond("ps"))
	assert.Contains(t, Respond("ps aux"), "COMMAND")
}
