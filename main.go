package main

import "github.com/Gibstick/pin-archive-3/cmd"

func main() {
	cmd.Execute()
}
