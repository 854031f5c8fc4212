package main

import "github.com/camden-git/facetagger/cmd"

func main() {
	cmd.Execute()
}
