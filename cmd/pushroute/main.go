// Package main provides the pushroute CLI.
package main

func main() {
	Execute()
}
