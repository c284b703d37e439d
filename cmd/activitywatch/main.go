package main

import "github.com/vietddude/activitywatch/internal/cli"

func main() {
	cli.Execute()
}
