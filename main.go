package main

import "github.com/frahmantamala/service-marketplace/cmd"

func main() {
	cmd.Execute()
}
