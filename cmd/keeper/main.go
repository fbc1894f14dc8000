package main

import "github.com/dbmigration/keeper/internal/cli"

func main() {
	cli.Execute()
}
