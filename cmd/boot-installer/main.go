package main

import "github.com/oshokin/boot-installer/cmd/boot-installer/cmd"

func main() {
	cmd.Execute()
}
