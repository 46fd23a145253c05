package registry

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/log"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Client is the registry's external contract: Apply commits a mutating
// Operation and Recover returns the full durable state on startup. Both
// answer through a Future the master actor suspends on; Apply wraps a
// raft.Apply round-trip, while Recover copies the local FSM state and
// returns an already-resolved Future.
type Client struct {
	raft      *raft.Raft
	fsm       *FSM
	store     *BoltStore
	localID   raft.ServerID
	localAddr raft.ServerAddress
	logger    zerolog.Logger
}

// Config configures the raft transport backing the registry client.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewClient creates a registry client and opens its durable store. On a
// fresh deployment Bootstrap must be called once before Apply can commit;
// the client has no method for joining an existing cluster.
func NewClient(cfg Config) (*Client, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry data directory: %w", err)
	}

	store, err := NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry store: %w", err)
	}

	fsm, err := NewFSM(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build registry fsm: %w", err)
	}

	c := &Client{
		fsm:     fsm,
		store:   store,
		localID: raft.ServerID(cfg.NodeID),
		logger:  log.WithComponent("registry"),
	}

	r, addr, err := newRaft(cfg, fsm)
	if err != nil {
		store.Close()
		return nil, err
	}
	c.raft = r
	c.localAddr = addr

	return c, nil
}

func newRaft(cfg Config, fsm raft.FSM) (*raft.Raft, raft.ServerAddress, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	tcpAddr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve registry bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, tcpAddr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create registry raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create registry snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create registry log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create registry stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, "", err
	}
	return r, transport.LocalAddr(), nil
}

// Bootstrap forms a brand new single-node registry cluster. Called once by
// whichever node is initializing a fresh deployment.
func (c *Client) Bootstrap() error {
	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: c.localID, Address: c.localAddr},
		},
	}
	bootstrapFuture := c.raft.BootstrapCluster(cfg)
	return bootstrapFuture.Error()
}

// IsLeader reports whether this client's raft node currently holds
// leadership. The health endpoint (through Master.IsLeader) and the metrics
// collector read it; the master does not check it before submitting
// mutations.
func (c *Client) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// Close shuts the registry client down, releasing its raft and store
// handles.
func (c *Client) Close() error {
	if c.raft != nil {
		if err := c.raft.Shutdown().Error(); err != nil {
			c.logger.Warn().Err(err).Msg("raft shutdown returned an error")
		}
	}
	return c.store.Close()
}

// Apply commits op through raft and resolves once the commit (or its
// rejection) is durable. The returned Future's error is either the commit
// failure or, when the commit succeeded, the error Operation.Apply reported
// (e.g. ErrAlreadyAdmitted): re-applying an already-admitted Admit returns
// an error rather than silently succeeding again. A MarkReachable for an
// agent in neither list is logged as a warning before it is committed.
func (c *Client) Apply(op Operation) *future.Future[bool] {
	f, resolve := future.New[bool]()

	go func() {
		if mr, ok := op.(MarkReachable); ok && mr.WasGarbageCollected(c.fsm.snapshotState()) {
			c.logger.Warn().Str("agent_id", string(mr.Info.ID)).
				Msg("admitting an agent found in neither registry list; its metadata may have been garbage-collected")
		}

		data, err := encodeOperation(op)
		if err != nil {
			resolve(false, fmt.Errorf("failed to encode registry operation: %w", err))
			return
		}

		raftFuture := c.raft.Apply(data, 5*time.Second)
		if err := raftFuture.Error(); err != nil {
			resolve(false, fmt.Errorf("failed to commit registry operation: %w", err))
			return
		}

		resp, ok := raftFuture.Response().(applyResult)
		if !ok {
			resolve(false, fmt.Errorf("unexpected registry apply response %T", raftFuture.Response()))
			return
		}

		c.logger.Debug().Str("op", op.Kind()).Bool("changed", resp.Changed).Msg("registry operation committed")
		resolve(resp.Changed, resp.Err)
	}()

	return f
}

// Recover returns the full admitted+unreachable registry content, for the
// master to rebuild its in-memory agent set after a failover.
func (c *Client) Recover() *future.Future[*State] {
	return future.Done[*State](c.fsm.snapshotState(), nil)
}

// AdmittedCount reports the current size of the admitted list, for the
// metrics collector.
func (c *Client) AdmittedCount() int {
	return len(c.fsm.snapshotState().Admitted)
}

// UnreachableCount reports the current size of the unreachable list, for the
// metrics collector.
func (c *Client) UnreachableCount() int {
	return len(c.fsm.snapshotState().Unreachable)
}
