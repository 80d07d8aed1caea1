package main

import "github.com/mselser95/order-reconciler/cmd"

func main() {
	cmd.Execute()
}
