package engine

import (
	"fmt"
	"time"

	"github.com/fleetdeck/fleetdeck/pkg/discovery/cluster"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/runner"
)

// Cluster drivers selectable in the application config.
const (
	DriverKubectl  = "kubectl"
	DriverClientGo = "client-go"
)

// ClusterClientFactory builds a cluster client for one provider config.
type ClusterClientFactory func(cfg provider.ClusterConfig) (cluster.Client, error)

// KubectlFactory returns a factory that shells out to the kubectl binary.
func KubectlFactory(r runner.Runner, binary string) ClusterClientFactory {
	return func(cfg provider.ClusterConfig) (cluster.Client, error) {
		return cluster.NewKubectlClient(r, binary, cfg), nil
	}
}

// ClientGoFactory returns a factory that talks to the API server directly.
func ClientGoFactory(timeout time.Duration) ClusterClientFactory {
	return func(cfg provider.ClusterConfig) (cluster.Client, error) {
		return cluster.NewClientGoClient(cfg, timeout)
	}
}

// NewClusterClientFactory picks a factory by driver name.
func NewClusterClientFactory(driver string, r runner.Runner, kubectl string, timeout time.Duration) (ClusterClientFactory, error) {
	switch driver {
	case "", DriverKubectl:
		return KubectlFactory(r, kubectl), nil
	case DriverClientGo:
		return ClientGoFactory(timeout), nil
	}
	return nil, fmt.Errorf("unknown cluster driver %q", driver)
}
