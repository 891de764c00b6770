package diag

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	s := New(nil, "127.0.0.1:0", Info{Name: "testd", Version: "v0"})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.addr = lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	// Give the listener a moment to bind.
	time.Sleep(50 * time.Millisecond)
	return s, cancel
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func TestVersionCommand(t *testing.T) {
	s, cancel := startTestServer(t)
	defer cancel()

	conn := dial(t, s.addr)
	defer conn.Close()

	_, err := conn.Write([]byte("version\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "testd v0\n", line)
}

func TestBase64Command(t *testing.T) {
	s, cancel := startTestServer(t)
	defer cancel()

	conn := dial(t, s.addr)
	defer conn.Close()

	_, err := conn.Write([]byte("base64 hello\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=\n", line)
}

func TestUnknownCommand(t *testing.T) {
	s, cancel := startTestServer(t)
	defer cancel()

	conn := dial(t, s.addr)
	defer conn.Close()

	_, err := conn.Write([]byte("bogus\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "command \"bogus\" not found\n", line)
}

func TestExitClosesConnection(t *testing.T) {
	s, cancel := startTestServer(t)
	defer cancel()

	conn := dial(t, s.addr)
	defer conn.Close()

	_, err := conn.Write([]byte("exit\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err) // EOF once the server closes its end
}

func TestLogLevelGetAndSet(t *testing.T) {
	s, cancel := startTestServer(t)
	defer cancel()

	conn := dial(t, s.addr)
	defer conn.Close()

	_, err := conn.Write([]byte("loglevel debug\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok\n", line)

	_, err = conn.Write([]byte("loglevel\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "debug\n", line)
}
