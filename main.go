package main

import (
	"github.com/wabridge/app/cmd"
)

// @title WhatsApp Bridge API
// @version 1.0
// @description Multi-tenant WhatsApp session orchestrator: pairing, inbound message capture, outbound dispatch and group management.

// @host  localhost:8000
// @BasePath /api/v1

func main() {
	cmd.StartApp()
}
