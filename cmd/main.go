package main

import "github.com/haolipeng/trident_firewall/pkg/cli"

func main() {
	cli.Execute()
}
