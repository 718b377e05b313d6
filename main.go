package main

import "staking-rewards/cmd"

func main() {
	cmd.Execute()
}
