package main

import "github.com/bolo3547/kupemisa-cooking-sub000/cmd"

func main() {
	cmd.Execute()
}
