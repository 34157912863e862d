package main

import "github.com/andy963/ads/cmd"

func main() {
	cmd.Execute()
}
