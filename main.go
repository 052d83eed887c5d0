package main

import (
	"github.com/slmcmahon/UpdateManager/cmd"
)

func main() {
	cmd.Execute(VersionAndBuild())
}
