package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/bson"
)

func TestExtractCommandDocOpMsg(t *testing.T) {
	doc, err := bson.Marshal(bson.M{"hello": 1, "$db": "admin"})
	require.NoError(t, err)

	// 4 flag-bit bytes + section kind 0, then the document.
	rest := append(make([]byte, 5), doc...)
	got := extractCommandDoc(opMsg, rest)
	assert.Contains(t, got, "hello")
	assert.Contains(t, got, "$db")
}

func TestExtractCommandDocOpQuery(t *testing.T) {
	doc, err := bson.Marshal(bson.M{"isMaster": 1})
	require.NoError(t, err)

	rest := make([]byte, 4) // flags
	rest = append(rest, []byte("admin.$cmd\x00")...)
	rest = append(rest, make([]byte, 8)...) // numberToSkip + numberToReturn
	rest = append(rest, doc...)

	got := extractCommandDoc(opQuery, rest)
	assert.Contains(t, got, "isMaster")
}

func TestExtractCommandDocMalformedInput(t *testing.T) {
	assert.Empty(t, extractCommandDoc(opMsg, []byte{0, 0}))
	assert.Empty(t, extractCommandDoc(opQuery, []byte{0, 0, 0, 0}))
	assert.Empty(t, extractCommandDoc(9999, []byte("whatever")))
}

func TestHelloResponseShape(t *testing.T) {
	doc := helloResponse()
	assert.Equal(t, true, doc["ismaster"])
	assert.Equal(t, 17, doc["maxWireVersion"])

	_, err := bson.Marshal(doc)
	assert.NoError(t, err)
}
