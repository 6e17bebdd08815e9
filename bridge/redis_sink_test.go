package libsimconnect_bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	error_code "github.com/atframework/libsimconnect-go/error_code"
)

// fakeRedis answers PING and PUBLISH over RESP2, any other command gets an error reply.
type fakeRedis struct {
	listener  net.Listener
	published chan []string
}

func startFakeRedis(t *testing.T) *fakeRedis {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeRedis{listener: l, published: make(chan []string, 16)}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	t.Cleanup(func() { l.Close() })
	return f
}

func (f *fakeRedis) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}

		switch strings.ToUpper(args[0]) {
		case "PING":
			_, err = io.WriteString(conn, "+PONG\r\n")
		case "PUBLISH":
			f.published <- args[1:]
			_, err = io.WriteString(conn, ":2\r\n")
		default:
			_, err = fmt.Fprintf(conn, "-ERR unknown command '%s'\r\n", args[0])
		}
		if err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	count, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(header[1:]))
		if err != nil {
			return nil, err
		}
		data := make([]byte, size+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		args = append(args, string(data[:size]))
	}
	return args, nil
}

// TestRedisSinkPublishes verifies updates are published on the configured channel
func TestRedisSinkPublishes(t *testing.T) {
	// Arrange
	server := startFakeRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sink, err := NewRedisSink(ctx, RedisSinkOptions{Address: server.listener.Addr().String(), Channel: "sim"}, nil)
	require.NoError(t, err)
	defer sink.Close()

	// Act
	err = sink.Publish(ctx, []byte(`{"kind":"data"}`))

	// Assert
	require.NoError(t, err)
	select {
	case args := <-server.published:
		assert.Equal(t, []string{"sim", `{"kind":"data"}`}, args)
	case <-time.After(5 * time.Second):
		t.Fatal("nothing published")
	}
	assert.Equal(t, uint64(1), sink.Published())
	assert.Equal(t, int64(2), sink.Receivers())
	assert.Equal(t, "redis:sim", sink.Name())
}

// TestRedisSinkRequiresAddress verifies an empty address is a parameter error
func TestRedisSinkRequiresAddress(t *testing.T) {
	// Act
	_, err := NewRedisSink(context.Background(), RedisSinkOptions{}, nil)

	// Assert
	assert.ErrorIs(t, err, error_code.EN_SIMCONNECT_ERR_PARAMS)
}

// TestRedisSinkClosed verifies publishing after close fails without touching the network
func TestRedisSinkClosed(t *testing.T) {
	// Arrange
	server := startFakeRedis(t)
	sink, err := NewRedisSink(context.Background(), RedisSinkOptions{Address: server.listener.Addr().String()}, nil)
	require.NoError(t, err)

	// Act
	require.NoError(t, sink.Close())
	err = sink.Publish(context.Background(), []byte("late"))

	// Assert
	assert.ErrorIs(t, err, error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING)
	assert.Nil(t, sink.GetRedisInstance())
}
