package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDPublisher string
	MQTTClientIDWeb       string

	// Topics
	TopicJointStates string
	TopicPose        string
	TopicCalibration string

	// Servo bus
	ServoSerialPort string
	ServoBaudRate   int
	ServoIDs        []int
	ServoSpeed      int       // steps/s
	JointSigns      []float64 // applied after the offset: (raw + offset) * sign
	JointOffsetsDeg []float64
	UseMockArm      bool

	// Timing
	PublishInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Files
	ChainFile       string // parameter table written by calibration, optional
	CalibrationFile string

	// Kinematics
	MaxLinkLength      float64 // mm
	IKToleranceMM      float64
	IKMaxIterations    int
	IKTimeoutMS        int
	IKElbow            string // "up" or "down"
	IKApproachPitchDeg float64

	// Calibration
	CalibMinSamples     int
	CalibMaxEvaluations int
	CalibTimeoutMS      int
}

// Package-level singleton state. Use InitGlobal to load and Get to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config with the optional values filled in.
func defaults() *Config {
	return &Config{
		MQTTClientIDPublisher: "arm-state-publisher",
		MQTTClientIDWeb:       "arm-web",
		TopicJointStates:      "arm/joint_states",
		TopicPose:             "arm/pose",
		TopicCalibration:      "arm/calibration",
		ServoBaudRate:         1000000,
		ServoIDs:              []int{1, 2, 3, 4, 5, 6},
		ServoSpeed:            1500,
		JointSigns:            []float64{-1, -1, 1, 1, -1, -1},
		JointOffsetsDeg:       []float64{0, 180, 180, 180, -180, 0},
		PublishInterval:       50,
		WebServerPort:         8080,
		CalibrationFile:       "calibration.json",
		MaxLinkLength:         500,
		IKToleranceMM:         0.1,
		IKMaxIterations:       200,
		IKTimeoutMS:           2000,
		IKElbow:               "up",
		CalibMinSamples:       10,
		CalibMaxEvaluations:   1000,
		CalibTimeoutMS:        60000,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PUBLISHER":
		c.MQTTClientIDPublisher = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_JOINT_STATES":
		c.TopicJointStates = value
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value

	// Servo bus
	case "SERVO_SERIAL_PORT":
		c.ServoSerialPort = value
	case "SERVO_BAUD_RATE":
		c.ServoBaudRate, err = parseInt(key, value, 1, 4000000)
	case "SERVO_IDS":
		c.ServoIDs, err = parseIntList(key, value, 0, 253)
	case "SERVO_SPEED":
		c.ServoSpeed, err = parseInt(key, value, 0, 2400)
	case "JOINT_SIGNS":
		c.JointSigns, err = parseFloatList(key, value)
		if err == nil {
			for _, s := range c.JointSigns {
				if s != 1 && s != -1 {
					return fmt.Errorf("JOINT_SIGNS entries must be 1 or -1, got %v", s)
				}
			}
		}
	case "JOINT_OFFSETS_DEG":
		c.JointOffsetsDeg, err = parseFloatList(key, value)
	case "USE_MOCK_ARM":
		c.UseMockArm, err = strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid USE_MOCK_ARM %q: %w", value, err)
		}

	// Timing
	case "PUBLISH_INTERVAL":
		c.PublishInterval, err = parseInt(key, value, 1, 60000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Files
	case "CHAIN_FILE":
		c.ChainFile = value
	case "CALIBRATION_FILE":
		c.CalibrationFile = value

	// Kinematics
	case "MAX_LINK_LENGTH":
		c.MaxLinkLength, err = parseFloat(key, value)
	case "IK_TOLERANCE_MM":
		c.IKToleranceMM, err = parseFloat(key, value)
	case "IK_MAX_ITERATIONS":
		c.IKMaxIterations, err = parseInt(key, value, 1, 100000)
	case "IK_TIMEOUT_MS":
		c.IKTimeoutMS, err = parseInt(key, value, 1, 600000)
	case "IK_ELBOW":
		if value != "up" && value != "down" {
			return fmt.Errorf("IK_ELBOW must be up or down, got %q", value)
		}
		c.IKElbow = value
	case "IK_APPROACH_PITCH_DEG":
		c.IKApproachPitchDeg, err = parseFloat(key, value)

	// Calibration
	case "CALIB_MIN_SAMPLES":
		c.CalibMinSamples, err = parseInt(key, value, 1, 100000)
	case "CALIB_MAX_EVALUATIONS":
		c.CalibMaxEvaluations, err = parseInt(key, value, 1, 1000000)
	case "CALIB_TIMEOUT_MS":
		c.CalibTimeoutMS, err = parseInt(key, value, 1, 3600000)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseIntList(key, value string, lo, hi int) ([]int, error) {
	var out []int
	for _, f := range strings.Split(value, ",") {
		v, err := parseInt(key, strings.TrimSpace(f), lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloatList(key, value string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(value, ",") {
		v, err := parseFloat(key, strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// validate checks that all required fields are set and consistent.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.UseMockArm && c.ServoSerialPort == "" {
		return fmt.Errorf("SERVO_SERIAL_PORT is required unless USE_MOCK_ARM=true")
	}
	if len(c.ServoIDs) < 4 || len(c.ServoIDs) > 6 {
		return fmt.Errorf("SERVO_IDS must list 4 to 6 joints, got %d", len(c.ServoIDs))
	}
	if len(c.JointSigns) != len(c.ServoIDs) {
		return fmt.Errorf("JOINT_SIGNS has %d entries, SERVO_IDS has %d", len(c.JointSigns), len(c.ServoIDs))
	}
	if len(c.JointOffsetsDeg) != len(c.ServoIDs) {
		return fmt.Errorf("JOINT_OFFSETS_DEG has %d entries, SERVO_IDS has %d", len(c.JointOffsetsDeg), len(c.ServoIDs))
	}
	if c.MaxLinkLength <= 0 {
		return fmt.Errorf("MAX_LINK_LENGTH must be positive")
	}
	if c.IKToleranceMM <= 0 {
		return fmt.Errorf("IK_TOLERANCE_MM must be positive")
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	return nil
}

// PublishPeriod returns PublishInterval as a duration.
func (c *Config) PublishPeriod() time.Duration {
	return time.Duration(c.PublishInterval) * time.Millisecond
}

// IKTimeout returns IKTimeoutMS as a duration.
func (c *Config) IKTimeout() time.Duration {
	return time.Duration(c.IKTimeoutMS) * time.Millisecond
}

// CalibTimeout returns CalibTimeoutMS as a duration.
func (c *Config) CalibTimeout() time.Duration {
	return time.Duration(c.CalibTimeoutMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
