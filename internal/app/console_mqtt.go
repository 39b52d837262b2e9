package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/config"
)

func formatJoints(deg []float64) string {
	parts := make([]string, len(deg))
	for i, d := range deg {
		parts[i] = fmt.Sprintf("J%d=%7.2f", i+1, d)
	}
	return strings.Join(parts, " ")
}

func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("arm-console-subscriber")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to joint states
	jointsToken := client.Subscribe(cfg.TopicJointStates, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s JointState
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: joint state unmarshal error: %v", err)
			return
		}
		fmt.Printf("[JOINTS] %s\n", formatJoints(s.Degrees))
	})
	jointsToken.Wait()
	if jointsToken.Error() != nil {
		return jointsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicJointStates)

	// Subscribe to tool pose
	poseToken := client.Subscribe(cfg.TopicPose, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p PoseMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: pose unmarshal error: %v", err)
			return
		}
		fmt.Printf("[POSE]   X=%8.2f  Y=%8.2f  Z=%8.2f mm\n", p.X, p.Y, p.Z)
	})
	poseToken.Wait()
	if poseToken.Error() != nil {
		return poseToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicPose)

	// Subscribe to calibration results
	calibToken := client.Subscribe(cfg.TopicCalibration, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r calibration.Result
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("console: calibration unmarshal error: %v", err)
			return
		}
		fmt.Printf("[CALIB]  samples=%d RMSE %.3f -> %.3f mm (%s)\n", r.Samples, r.RMSEBefore, r.RMSEAfter, r.Reason)
		for _, d := range r.Deltas {
			if d.Delta != 0 {
				fmt.Printf("         J%d %-12s %+.4f\n", d.Joint, d.Name, d.Delta)
			}
		}
	})
	calibToken.Wait()
	if calibToken.Error() != nil {
		return calibToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCalibration)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
