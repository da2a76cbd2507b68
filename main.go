package main

import "github.com/naka-gawa/eng-metrics/cmd"

func main() {
	cmd.Execute()
}
