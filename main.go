package main

import "github.com/ledgerline/erpbackup/cmd"

func main() {
	cmd.Execute()
}
