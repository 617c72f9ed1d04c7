package main

import "github.com/vietddude/apiclient/internal/cli"

func main() {
	cli.Execute()
}
