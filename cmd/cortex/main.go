package main

import "github.com/mvp-joe/cortex-index/internal/cli"

func main() {
	cli.Execute()
}
