package main

import "github.com/finlake/finsync/internal/adapters/cli"

func main() {
	cli.Execute()
}
