package main

import "pdsnotes/cli"

func main() {
	cli.Execute()
}
