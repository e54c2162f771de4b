package main

import "facegallery/cmd"

func main() {
	cmd.Execute()
}
