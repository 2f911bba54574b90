package main

import "m3u8conv/cmd"

func main() {
	cmd.Execute()
}
