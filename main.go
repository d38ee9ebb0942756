package main

import "github.com/ValentinKolb/nkv/cmd"

func main() {
	cmd.Execute()
}
