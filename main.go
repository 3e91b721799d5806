// The main package for the listings-crawler executable.
package main

import "github.com/propwatch/listings-crawler/cmd"

func main() {
	cmd.Execute()
}
