package main

import "github.com/chadmayfield/seismicd/cmd"

func main() {
	cmd.Execute()
}
