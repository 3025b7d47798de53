package main

import (
	"bocloud.com/cloudnative/droidvold/cmd/droidvold/run"
)

func main() {
	run.Execute()
}
