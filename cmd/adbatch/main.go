package main

import "github.com/vietddude/adbatch/internal/cli"

func main() {
	cli.Execute()
}
