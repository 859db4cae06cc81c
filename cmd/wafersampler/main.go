package main

import "github.com/fabworks/wafersampler/cmd/wafersampler/cmd"

func main() {
	cmd.Execute()
}
