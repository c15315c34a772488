package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/protocol"
	"github.com/hupe1980/toolmesh/server"
	"github.com/hupe1980/toolmesh/transport"
)

// newToolServer builds a server exposing named tools whose results identify
// the server, so collision tests can tell which connection answered.
func newToolServer(serverName string, toolNames ...string) *server.Server {
	srv := server.New(serverName, "0.1.0")
	for _, name := range toolNames {
		srv.RegisterTool(protocol.Tool{Name: name},
			func(_ context.Context, _ map[string]any) (*protocol.ToolResult, error) {
				return protocol.TextResult(serverName), nil
			})
	}
	return srv
}

func TestRegisterAndAllTools(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "a", transport.NewDirect(newToolServer("srv-a", "alpha", "beta"))))
	require.NoError(t, r.Register(ctx, "b", transport.NewDirect(newToolServer("srv-b", "gamma"))))

	tools := r.AllTools()
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha", tools[0].Name)
	assert.Equal(t, "beta", tools[1].Name)
	assert.Equal(t, "gamma", tools[2].Name)
}

func TestRegisterDuplicateID(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "a", transport.NewDirect(newToolServer("srv-a", "alpha"))))
	assert.Error(t, r.Register(ctx, "a", transport.NewDirect(newToolServer("srv-a2", "beta"))))
}

// failingTransport always fails Start.
type failingTransport struct{}

func (failingTransport) Start(context.Context) error {
	return mesherror.New(mesherror.KindConnection, "unreachable")
}

func (failingTransport) Send(context.Context, *protocol.Request) (*protocol.Response, error) {
	return nil, mesherror.New(mesherror.KindTransport, "not connected")
}

func (failingTransport) Close() error      { return nil }
func (failingTransport) IsConnected() bool { return false }

func TestRegisterFailureKeepsConnection(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.Register(ctx, "broken", failingTransport{})
	require.Error(t, err)

	conn, ok := r.Connection("broken")
	require.True(t, ok)
	assert.Equal(t, StatusError, conn.Status)
	assert.Error(t, conn.LastErr)
	assert.Empty(t, conn.Tools)

	// Errored connections contribute nothing to the aggregate catalog.
	assert.Empty(t, r.AllTools())
}

func TestRetryRecoversConnection(t *testing.T) {
	r := New()
	ctx := context.Background()

	// A direct transport that is closed fails Start; a fresh one succeeds.
	d := transport.NewDirect(newToolServer("srv", "alpha"))
	require.NoError(t, r.Register(ctx, "c", d))

	conn, _ := r.Connection("c")
	require.Equal(t, StatusConnected, conn.Status)

	// Force an errored retry path with a broken registration first.
	require.Error(t, r.Register(ctx, "broken", failingTransport{}))
	require.Error(t, r.Retry(ctx, "broken"))

	conn, _ = r.Connection("broken")
	assert.Equal(t, StatusError, conn.Status)
}

func TestCallToolFirstMatchDeterministic(t *testing.T) {
	r := New()
	ctx := context.Background()

	// Both connections expose a tool named "shared".
	require.NoError(t, r.Register(ctx, "first", transport.NewDirect(newToolServer("srv-first", "shared"))))
	require.NoError(t, r.Register(ctx, "second", transport.NewDirect(newToolServer("srv-second", "shared"))))

	// No dedup in the aggregate view.
	var sharedCount int
	for _, tool := range r.AllTools() {
		if tool.Name == "shared" {
			sharedCount++
		}
	}
	assert.Equal(t, 2, sharedCount)

	// Resolution is stable across repeated calls: always the first registrant.
	for i := 0; i < 5; i++ {
		result, err := r.CallTool(ctx, "shared", nil)
		require.NoError(t, err)
		assert.Equal(t, "srv-first", result.Text())
	}

	// Dropping the first registrant shifts resolution to the survivor.
	require.NoError(t, r.Disconnect("first"))

	result, err := r.CallTool(ctx, "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "srv-second", result.Text())
}

func TestCallToolNotFound(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "a", transport.NewDirect(newToolServer("srv", "alpha"))))

	_, err := r.CallTool(ctx, "missing", nil)
	require.Error(t, err)
	assert.Equal(t, mesherror.KindToolNotFound, mesherror.KindOf(err))
}

func TestStubConnectionWithInjectedCatalog(t *testing.T) {
	r := New()
	ctx := context.Background()

	st := transport.NewStub(func(_ context.Context, name string, _ map[string]any) (*protocol.ToolResult, error) {
		return protocol.TextResult("stubbed:" + name), nil
	})

	require.NoError(t, r.Register(ctx, "sim", st))

	// The stub's discovered catalog is empty by definition.
	assert.Empty(t, r.AllTools())

	// The caller injects the simulated catalog at registration time.
	require.NoError(t, r.InjectTools("sim", []protocol.Tool{{Name: "install_package"}}))
	require.Len(t, r.AllTools(), 1)

	result, err := r.CallTool(ctx, "install_package", nil)
	require.NoError(t, err)
	assert.Equal(t, "stubbed:install_package", result.Text())
}

func TestDisconnect(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "a", transport.NewDirect(newToolServer("srv", "alpha"))))
	require.NoError(t, r.Disconnect("a"))

	_, ok := r.Connection("a")
	assert.False(t, ok)
	assert.Empty(t, r.Connections())

	assert.Error(t, r.Disconnect("a"))
}
