package main

import "github.com/yorozuya-cybersecurity/yorosec-probe/pkg/cli"

func main() {
	cli.Execute()
}
