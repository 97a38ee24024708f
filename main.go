package main

import "github.com/naka-gawa/binary-top/cmd"

func main() {
	cmd.Execute()
}
