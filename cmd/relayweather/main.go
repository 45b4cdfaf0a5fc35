package main

import "relay-weather/internal/cli"

func main() {
	cli.Execute()
}
