package main

import "github.com/rookboom/rookboom/cmd"

func main() {
	cmd.Execute()
}
