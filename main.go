package main

import "github.com/ValentinKolb/dKVcheck/cmd"

func main() {
	cmd.Execute()
}
