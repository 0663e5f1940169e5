// Package main is the entry point for prort-ip, a raw-packet network scanner.
package main

func main() {
	SetVersion(version, commit, buildTime)
	Execute()
}
