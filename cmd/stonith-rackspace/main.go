package main

import "github.com/dougneal/stonith-rackspace/cmd/stonith-rackspace/cmd"

func main() {
	cmd.Execute()
}
