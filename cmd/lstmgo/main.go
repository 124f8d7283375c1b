package main

import "github.com/joshcarp/lstmgo"

func main() {
	lstmgo.InitializeCommand()
}
