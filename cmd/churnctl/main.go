// churnctl hosts and drives the mining rig cycle controller.
//
// Usage:
//
//	churnctl run [--config rig.cfg] [--listen :7130] [--tick 1s]
//	churnctl simulate [key=value ...]
//	churnctl start|stop|status|config|history [--server http://host:7130]
//	churnctl defaults [--yaml]
//
// Examples:
//
//	# Host a simulated rig and start a cycle right away
//	churnctl run --autostart --journal ~/.churnrig/journal.db
//
//	# Start a cycle with a larger piston step on a running host
//	churnctl start shaft_step=1
package main

import "churnrig/internal/cli"

func main() {
	cli.Execute()
}
