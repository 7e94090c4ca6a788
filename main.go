/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/tinyblog/blog/cmd"

func main() {
	cmd.Execute()
}
