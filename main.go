package main

import "github.com/Norgate-AV/gmpbuild/cmd"

func main() {
	cmd.Execute()
}
