package main

import (
	"github.com/1hive/gardens-points/server"
)

func main() {
	server.Init()
}
