package main

import "dtsynth/cli"

func main() {
	cli.Execute()
}
