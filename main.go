// SPDX-License-Identifier: MPL-2.0

// dotctl is a declarative dotfiles and environment provisioner.
package main

import cmd "dotctl/cmd/dotctl"

func main() {
	cmd.Execute()
}
