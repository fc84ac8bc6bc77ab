package main

import "os"

var counter int64 = 7

//go:noinline
func bump(n int64) int64 {
	counter += n
	return counter
}

func main() {
	if bump(int64(len(os.Args))) < 0 {
		os.Exit(1)
	}
}
