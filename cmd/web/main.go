// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/arm_kinematics/internal/app"
	"github.com/relabs-tech/arm_kinematics/internal/config"
)

func main() {
	configPath := flag.String("config", "arm_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting arm web server (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: live pose and captures require the state publisher to be running")

	if err := app.RunWeb(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
