package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerOptionsDefaults(t *testing.T) {
	o := NewServerOptions(ServerOptionWithAddr(":0"), ServerOptionWithMaxConnNum(4))

	require.Equal(t, ":0", o.Addr)
	require.Equal(t, uint32(4), o.MaxConnNum)
	require.Equal(t, DefaultWriteBufLen, o.MaxWriteBufLen)
	require.Equal(t, DefaultMaxFrameLen, o.MaxMsgLen)
	require.NotEmpty(t, o.ID)
	require.NotNil(t, o.Context)

	o = NewServerOptions(ServerOptionWithID("a"))
	require.Equal(t, "a", o.ID)
	require.Equal(t, DefaultMaxConnNum, o.MaxConnNum)
}

func TestClientOptionsDefaults(t *testing.T) {
	o := NewClientOptions(ClientOptionWithMaxReconnectNum(1))

	require.Equal(t, uint32(1), o.MaxReconnectNum)
	require.Equal(t, DefaultReconnectInterval, o.ReconnectInterval)
	require.Equal(t, DefaultMaxFrameLen, o.MaxMsgLen)
}
