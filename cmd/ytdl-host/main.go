package main

import "go-ytdl-host/cmd/ytdl-host/cmd"

func main() {
	cmd.Execute()
}
