package main

import "github.com/cognirehab/securekit/cmd/securekit/cmd"

func main() {
	cmd.Execute()
}
