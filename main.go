package main

import "github.com/chxlky/boardsync/cmd"

func main() {
	cmd.Execute()
}
