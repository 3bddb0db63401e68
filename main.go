package main

import "github.com/Synternet/bondingcurve-indexer/cmd"

func main() {
	cmd.Execute()
}
