// Command kubefabric is the CLI entrypoint: a thin wrapper that builds
// a config.Settings from flags (and an optional YAML overlay), wires
// together the vault, client, discovery, orchestrator and admission
// server, and runs them until signalled to stop.
package main

import "github.com/kubefabric/reactor/cmd/kubefabric/cmd"

func main() {
	cmd.Execute()
}
