package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"shopfloor/pkg/coordination"
)

const nodePrefix = "/shopfloor/workers/"

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// The session keeps its lease alive via heartbeats; election keys
	// vanish when the process dies.
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &EtcdCoordinator{client: cli, session: sess}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, "/shopfloor/elections/"+name)
	return &EtcdElection{election: e}
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
}

func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	return e.election.Campaign(ctx, value)
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		return "", err
	}
	return string(resp.Kvs[0].Value), nil
}

// RegisterNode writes the worker's liveness record under a fresh lease.
// Called from the heartbeat ticker; each call replaces the previous
// record and restarts the TTL clock.
func (c *EtcdCoordinator) RegisterNode(ctx context.Context, info coordination.NodeInfo, ttlSeconds int) error {
	lease, err := c.client.Grant(ctx, int64(ttlSeconds))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	info.SeenAt = time.Now()
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal node info: %w", err)
	}

	_, err = c.client.Put(ctx, nodePrefix+info.ID, string(value), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}
	return nil
}

// GetActiveNodes lists workers whose heartbeat lease is still live.
func (c *EtcdCoordinator) GetActiveNodes(ctx context.Context) ([]coordination.NodeInfo, error) {
	resp, err := c.client.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	var nodes []coordination.NodeInfo
	for _, kv := range resp.Kvs {
		var info coordination.NodeInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			continue // Skip records written by incompatible versions
		}
		nodes = append(nodes, info)
	}
	return nodes, nil
}
