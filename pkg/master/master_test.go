package master

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator"
	"github.com/cuemby/clustermaster/pkg/allocator/simple"
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/ratelimit"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

// newTestMaster builds a Master backed by a real single-node registry (raft
// bootstrapped against a temp data dir) and the simple allocator. Authn/authz
// are wide open so tests exercise lifecycle logic, not authorization policy.
func newTestMaster(t *testing.T) *Master {
	t.Helper()
	return newTestMasterWithConfig(t, DefaultConfig())
}

func newTestMasterWithConfig(t *testing.T, cfg Config) *Master {
	t.Helper()
	return newTestMasterWithAuthorizer(t, cfg, authz.AllowAllAuthorizer{})
}

func newTestMasterWithAuthorizer(t *testing.T, cfg Config, az authz.Authorizer) *Master {
	t.Helper()

	reg, err := registry.NewClient(registry.Config{
		NodeID:   "test-master",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, reg.Bootstrap())

	require.Eventually(t, reg.IsLeader, 5*time.Second, 50*time.Millisecond, "registry never elected itself leader")

	m := New(cfg, reg, simple.New(), authz.NoneAuthenticator{}, az, ratelimit.New(ratelimit.Config{QPS: 1000, Capacity: 1000}, nil), events.NewBroker(), "test")
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		m.Stop()
		reg.Close()
	})
	return m
}

func testAgentInfo(id string) types.AgentInfo {
	return types.AgentInfo{
		ID:        types.AgentID(id),
		Hostname:  id,
		Address:   "127.0.0.1",
		Port:      5051,
		Resources: types.Scalar("cpus", 4).Add(types.Scalar("mem", 1024)),
	}
}

type discardSink struct{}

func (discardSink) Send(v interface{}) error { return nil }

// capturingSink records every value sent to it, for tests that need to
// observe offers or task messages pushed asynchronously from the allocator.
type capturingSink struct {
	mu   sync.Mutex
	sent []interface{}
}

func (s *capturingSink) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, v)
	return nil
}

func (s *capturingSink) snapshot() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *capturingSink) offers() []*types.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Offer
	for _, v := range s.sent {
		if o, ok := v.(*types.Offer); ok {
			out = append(out, o)
		}
	}
	return out
}

func registerTestAgent(t *testing.T, m *Master, id string) types.AgentID {
	t.Helper()
	result, err := m.RegisterAgent(authz.Connection{}, testAgentInfo(id), discardSink{}).Await()
	require.NoError(t, err)
	return result.AgentID
}

func registerTestFramework(t *testing.T, m *Master, name string) types.FrameworkID {
	t.Helper()
	return registerTestFrameworkWithSink(t, m, name, discardSink{})
}

func registerTestFrameworkWithSink(t *testing.T, m *Master, name string, sink types.MessageSink) types.FrameworkID {
	t.Helper()
	result, err := m.Subscribe(authz.Connection{}, types.FrameworkInfo{Name: name}, types.Transport{Kind: types.TransportHTTPStream, Writer: sink}).Await()
	require.NoError(t, err)
	return result.FrameworkID
}

var _ allocator.Allocator = (*simple.Allocator)(nil)
