// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/relabs-tech/arm_kinematics/internal/app"
	"github.com/relabs-tech/arm_kinematics/internal/config"
)

func main() {
	configPath := flag.String("config", "arm_config.txt", "path to configuration file")
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()

	log.Println("starting servo debug tool (standalone)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: stop the state publisher first, only one process can own the servo line")

	debugger, closeBus, err := app.NewServoDebugger(config.Get())
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer closeBus()

	http.HandleFunc("/ws", debugger.HandleServoDebugWS)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/servo_debug.html")
	})

	log.Printf("Servo debug tool listening on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
