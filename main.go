package main

import "github.com/axiomedu/ms-go-billing/cmd"

func main() {
	cmd.Execute()
}
