package main

import "github.com/andresmejia3/posecast/cmd"

func main() {
	cmd.Execute()
}
