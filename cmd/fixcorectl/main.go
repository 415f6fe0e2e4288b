// fixcorectl is the offline operator CLI for fixcore: it inspects the
// session-context store and replay-index files directly, with no
// network control plane (see DESIGN.md).
package main

import "github.com/quantrail/fixcore/cmd/fixcorectl/commands"

func main() {
	commands.Execute()
}
