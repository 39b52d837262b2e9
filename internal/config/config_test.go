package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arm_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "MQTT_BROKER=tcp://localhost:1883\nUSE_MOCK_ARM=true\n"))
	require.NoError(t, err)

	assert.Equal(t, "arm/joint_states", cfg.TopicJointStates)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, cfg.ServoIDs)
	assert.Equal(t, 0.1, cfg.IKToleranceMM)
	assert.Equal(t, 50*time.Millisecond, cfg.PublishPeriod())
	assert.Equal(t, 2*time.Second, cfg.IKTimeout())
	assert.Equal(t, time.Minute, cfg.CalibTimeout())
	assert.True(t, cfg.UseMockArm)
}

func TestLoadFullFile(t *testing.T) {
	body := `# arm configuration
MQTT_BROKER=tcp://pi.local:1883
MQTT_CLIENT_ID_PUBLISHER=pub
TOPIC_POSE = robot/pose
SERVO_SERIAL_PORT=/dev/ttyACM0
SERVO_BAUD_RATE=1000000
SERVO_IDS=1, 2, 3, 4
JOINT_SIGNS=-1,1,1,-1
JOINT_OFFSETS_DEG=0,180,180,0
IK_ELBOW=down
IK_APPROACH_PITCH_DEG=15
CALIB_MIN_SAMPLES=12
CHAIN_FILE=chain.json
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, "tcp://pi.local:1883", cfg.MQTTBroker)
	assert.Equal(t, "pub", cfg.MQTTClientIDPublisher)
	assert.Equal(t, "robot/pose", cfg.TopicPose)
	assert.Equal(t, []int{1, 2, 3, 4}, cfg.ServoIDs)
	assert.Equal(t, []float64{-1, 1, 1, -1}, cfg.JointSigns)
	assert.Equal(t, []float64{0, 180, 180, 0}, cfg.JointOffsetsDeg)
	assert.Equal(t, "down", cfg.IKElbow)
	assert.Equal(t, 15.0, cfg.IKApproachPitchDeg)
	assert.Equal(t, 12, cfg.CalibMinSamples)
	assert.Equal(t, "chain.json", cfg.ChainFile)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing broker", body: "USE_MOCK_ARM=true\n", want: "MQTT_BROKER is required"},
		{name: "missing port", body: "MQTT_BROKER=tcp://x:1883\n", want: "SERVO_SERIAL_PORT is required"},
		{name: "bad line", body: "MQTT_BROKER\n", want: "invalid config line 1"},
		{name: "unknown key", body: "MQTT_BROKER=x\nCOLOR=blue\n", want: "config line 2: unknown config key"},
		{name: "bad int", body: "MQTT_BROKER=x\nSERVO_SPEED=fast\n", want: "invalid SERVO_SPEED"},
		{name: "speed range", body: "MQTT_BROKER=x\nSERVO_SPEED=5000\n", want: "SERVO_SPEED must be 0-2400"},
		{name: "bad sign", body: "MQTT_BROKER=x\nJOINT_SIGNS=1,2,1,1,1,1\n", want: "JOINT_SIGNS entries must be 1 or -1"},
		{name: "bad elbow", body: "MQTT_BROKER=x\nIK_ELBOW=left\n", want: "IK_ELBOW must be up or down"},
		{
			name: "sign count",
			body: "MQTT_BROKER=x\nUSE_MOCK_ARM=true\nSERVO_IDS=1,2,3,4\n",
			want: "JOINT_SIGNS has 6 entries, SERVO_IDS has 4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
