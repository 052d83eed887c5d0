package main

// version is replaced at build time:
//
//	go build -ldflags "-X main.version=1.2.3"
var version = "1.0.0-SNAPSHOT"

func VersionAndBuild() string {
	return version
}
