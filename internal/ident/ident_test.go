package ident

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReplyOK(t *testing.T) {
	userID, ok := parseReply("6193, 23 : USERID : UNIX : stjohns\r\n")
	require.True(t, ok)
	require.Equal(t, "stjohns", userID)
}

func TestParseReplyError(t *testing.T) {
	_, ok := parseReply("6193, 23 : ERROR : NO-USER\r\n")
	require.False(t, ok)
}

func TestParsePortPair(t *testing.T) {
	c, s, err := ParsePortPair("6193,23\r\n")
	require.NoError(t, err)
	require.Equal(t, 6193, c)
	require.Equal(t, 23, s)
}
