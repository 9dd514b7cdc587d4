package main

import "github.com/libforge/libforge/cmd/libforge/internal"

func main() {
	internal.Execute()
}
