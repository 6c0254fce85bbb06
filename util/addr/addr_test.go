package addr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractExplicit(t *testing.T) {
	a, err := Extract("10.1.2.3")
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", a)
}

func TestAdvertise(t *testing.T) {
	a, err := Advertise("192.168.1.4:9000")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.4:9000", a)

	a, err = Advertise(":9000")
	if err != nil {
		require.ErrorIs(t, err, ErrorIPNotFound)

		return
	}

	host, port, err := net.SplitHostPort(a)
	require.NoError(t, err)
	require.Equal(t, "9000", port)
	require.NotNil(t, net.ParseIP(host))

	_, err = Advertise("nonsense")
	require.ErrorIs(t, err, ErrorInvalidAddr)
}

func TestPrivateBlocks(t *testing.T) {
	require.True(t, isPrivate(net.ParseIP("10.0.0.1")))
	require.True(t, isPrivate(net.ParseIP("192.168.0.1")))
	require.True(t, isPrivate(net.ParseIP("fd00::1")))
	require.False(t, isPrivate(net.ParseIP("8.8.8.8")))
}

func TestWildcard(t *testing.T) {
	for _, h := range []string{"", "0.0.0.0", "::", "[::]"} {
		require.True(t, isWildcard(h), h)
	}

	require.False(t, isWildcard("127.0.0.1"))
}

func TestIsLocal(t *testing.T) {
	require.True(t, IsLocal("localhost:80"))
	require.True(t, IsLocal("127.0.0.1:9000"))
	require.False(t, IsLocal("203.0.113.7:9000"))
}
