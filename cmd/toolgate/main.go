// Command toolgate runs the gateway that fronts a set of MCP upstream
// servers, enforcing per-identity policy, rate limits, and audit logging
// before forwarding tool calls.
package main

import "github.com/toolgate/gateway/cmd/toolgate/cmd"

func main() {
	cmd.Execute()
}
