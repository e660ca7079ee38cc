// Package main is the entry point for the Torvix nutrition backend.
package main

func main() {
	Execute()
}
