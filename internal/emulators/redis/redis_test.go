package redis

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCommandParsesInlineCommand(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("PING\r\n"))
	args, raw, err := readCommand(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, args)
	assert.Equal(t, "PING", raw)
}

func TestReadCommandParsesMultibulkArray(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))
	args, _, err := readCommand(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "foo"}, args)
}

func TestReadCommandRejectsMalformedBulkHeader(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*1\r\nnotaheader\r\n"))
	_, _, err := readCommand(r)
	assert.Error(t, err)
}

func TestIsDestructiveFlagsAdminCommands(t *testing.T) {
	assert.True(t, isDestructive("FLUSHALL"))
	assert.True(t, isDestructive("SHUTDOWN"))
	assert.False(t, isDestructive("GET"))
	assert.False(t, isDestructive("PING"))
}
